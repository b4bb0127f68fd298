package ffmock

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"vidtty/pkg/ffmpeg"
)

// MockProcessConfig ProcessMocker config.
type MockProcessConfig struct {
	ReturnErr bool
	Sleep     time.Duration

	// Stdout is written to the command's stdout.
	Stdout []byte

	// Stdin receives everything read from the command's stdin.
	Stdin *SyncBuffer

	// Args receives the command line of every started process.
	Args chan<- []string
}

// ErrMock mock error.
var ErrMock = errors.New("mock")

// NewProcessMocker creates process mocker from config.
func NewProcessMocker(c MockProcessConfig) ffmpeg.NewProcessFunc {
	return func(cmd *exec.Cmd) ffmpeg.Process {
		return mockProcess{c: c, cmd: cmd}
	}
}

type mockProcess struct {
	c   MockProcessConfig
	cmd *exec.Cmd
}

func (m mockProcess) Start(ctx context.Context) error {
	if m.c.Args != nil {
		m.c.Args <- m.cmd.Args
	}
	if m.c.Stdin != nil && m.cmd.Stdin != nil {
		if _, err := io.Copy(m.c.Stdin, m.cmd.Stdin); err != nil {
			return err
		}
	}
	if len(m.c.Stdout) != 0 && m.cmd.Stdout != nil {
		if _, err := m.cmd.Stdout.Write(m.c.Stdout); err != nil {
			return err
		}
	}
	if m.c.Sleep != 0 {
		select {
		case <-time.After(m.c.Sleep):
		case <-ctx.Done():
		}
	}
	if m.c.ReturnErr {
		return ErrMock
	}
	return nil
}

func (m mockProcess) Timeout(time.Duration) ffmpeg.Process     { return m }
func (m mockProcess) StdoutLogger(func(string)) ffmpeg.Process { return m }
func (m mockProcess) StderrLogger(func(string)) ffmpeg.Process { return m }

// SyncBuffer is a bytes buffer that is safe for concurrent use.
type SyncBuffer struct {
	buf []byte
	mu  sync.Mutex
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Bytes returns a copy of the buffer.
func (b *SyncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

// NewProcess returns Sleeps for 15ms before returning.
var NewProcess = NewProcessMocker(MockProcessConfig{
	Sleep: 15 * time.Millisecond,
})

// NewProcessNil returns nil.
var NewProcessNil = NewProcessMocker(MockProcessConfig{})

// NewProcessErr returns error.
var NewProcessErr = NewProcessMocker(MockProcessConfig{
	ReturnErr: true,
})
