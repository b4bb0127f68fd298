// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Process interface only used for testing.
type Process interface {
	// Start starts the process and waits for it to exit.
	Start(ctx context.Context) error

	// Timeout sets the time to wait for the process to
	// exit after an interrupt before it's killed.
	Timeout(time.Duration) Process

	// StdoutLogger sets a function that receives stdout lines.
	StdoutLogger(func(string)) Process

	// StderrLogger sets a function that receives stderr lines.
	StderrLogger(func(string)) Process
}

// process manages subprocesses.
type process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	stdoutLogger func(string)
	stderrLogger func(string)

	done chan struct{}
}

// NewProcessFunc is used for mocking.
type NewProcessFunc func(*exec.Cmd) Process

// NewProcess return process.
func NewProcess(cmd *exec.Cmd) Process {
	return process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
	}
}

func (p process) Timeout(timeout time.Duration) Process {
	p.timeout = timeout
	return p
}

func (p process) StdoutLogger(l func(string)) Process {
	p.stdoutLogger = l
	return p
}

func (p process) StderrLogger(l func(string)) Process {
	p.stderrLogger = l
	return p
}

func attachLogger(
	wg *sync.WaitGroup,
	l func(string),
	label string,
	stdPipe func() (io.ReadCloser, error),
) error {
	pipe, err := stdPipe()
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(pipe)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for scanner.Scan() {
			l(label + ": " + scanner.Text())
		}
	}()
	return nil
}

// Start starts process with context.
func (p process) Start(ctx context.Context) error {
	var loggers sync.WaitGroup
	if p.stdoutLogger != nil {
		if err := attachLogger(&loggers, p.stdoutLogger, "stdout", p.cmd.StdoutPipe); err != nil {
			return err
		}
	}
	if p.stderrLogger != nil {
		if err := attachLogger(&loggers, p.stderrLogger, "stderr", p.cmd.StderrPipe); err != nil {
			return err
		}
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	p.done = make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-p.done:
		case <-ctx.Done():
			p.stop()
		}
	}()

	// The pipes must be drained before Wait closes them.
	loggers.Wait()
	err := p.cmd.Wait()
	close(p.done)
	<-stopped

	// FFmpeg returns 255 when it exits on an interrupt.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 255 {
		return nil
	}
	return err
}

// Note, can't use CommandContext to stop process as it would
// kill the process before it has a chance to exit on its own.
func (p process) stop() {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	select {
	case <-p.done:
	case <-time.After(p.timeout):
		p.cmd.Process.Signal(os.Kill) //nolint:errcheck
		<-p.done
	}
}

// FFMPEG stores ffmpeg and ffprobe binary locations.
type FFMPEG struct {
	command      func(...string) *exec.Cmd
	probeCommand func(...string) *exec.Cmd
	newProcess   NewProcessFunc
}

// New returns FFMPEG.
func New(ffmpegBin string, ffprobeBin string) *FFMPEG {
	return &FFMPEG{
		command: func(args ...string) *exec.Cmd {
			return exec.Command(ffmpegBin, args...)
		},
		probeCommand: func(args ...string) *exec.Cmd {
			return exec.Command(ffprobeBin, args...)
		},
		newProcess: NewProcess,
	}
}

// DefaultFPS is used when the source does not report a frame rate.
const DefaultFPS = 30

// ProbeResult video stream metadata.
type ProbeResult struct {
	FPS      float64
	Frames   int64
	Duration float64 // Seconds, zero if unknown.
	HasAudio bool
}

// ProbeFunc is used for mocking.
type ProbeFunc func(context.Context, string) (*ProbeResult, error)

// Errors.
var (
	ErrNoVideoStream = errors.New("no video stream")
	ErrNoFrameCount  = errors.New("unknown frame count")
)

// Probe uses ffprobe to read the frame rate and frame count of src.
func (f *FFMPEG) Probe(ctx context.Context, src string) (*ProbeResult, error) {
	cmd := f.probeCommand(
		"-hide_banner",
		"-loglevel", "error",
		"-count_packets",
		"-show_streams",
		"-show_format",
		"-of", "json",
		src,
	)
	var stdout strings.Builder
	cmd.Stdout = &stdout

	var stderr lineBuffer
	err := f.newProcess(cmd).StderrLogger(stderr.add).Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w: %s", err, stderr.String())
	}

	return parseProbe([]byte(stdout.String()))
}

type probeOutput struct {
	Streams []struct {
		CodecType     string `json:"codec_type"`
		RFrameRate    string `json:"r_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		Duration      string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var output probeOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("unmarshal ffprobe output: %w", err)
	}

	var result ProbeResult
	videoIndex := -1
	for i, stream := range output.Streams {
		switch stream.CodecType {
		case "video":
			if videoIndex == -1 {
				videoIndex = i
			}
		case "audio":
			result.HasAudio = true
		}
	}
	if videoIndex == -1 {
		return nil, ErrNoVideoStream
	}
	video := output.Streams[videoIndex]

	result.FPS = parseFrameRate(video.RFrameRate)
	if result.FPS == 0 {
		result.FPS = DefaultFPS
	}

	result.Duration = parseFloat(video.Duration)
	if result.Duration == 0 {
		result.Duration = parseFloat(output.Format.Duration)
	}

	for _, count := range []string{video.NbFrames, video.NbReadPackets} {
		frames, err := strconv.ParseInt(count, 10, 64)
		if err == nil && frames > 0 {
			result.Frames = frames
			return &result, nil
		}
	}

	if result.Duration <= 0 {
		return nil, ErrNoFrameCount
	}
	result.Frames = int64(result.Duration*result.FPS + 0.5)
	return &result, nil
}

// "30000/1001" to 29.97.
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// IsURL reports whether src is a network source.
func IsURL(src string) bool {
	scheme, _, found := strings.Cut(src, "://")
	return found && scheme != "" && !strings.ContainsAny(scheme, "/\\")
}

func inputArgs(src string) []string {
	args := []string{"-nostdin"}
	if IsURL(src) {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	return args
}

// EncodeAudioFunc is used for mocking.
type EncodeAudioFunc func(ctx context.Context, src string, dst io.Writer, progress func(time.Duration)) error

// EncodeAudio encodes the audio track of src to MP3 and writes it to
// dst. progress is called with the encoded duration, it may be nil.
func (f *FFMPEG) EncodeAudio(
	ctx context.Context,
	src string,
	dst io.Writer,
	progress func(time.Duration),
) error {
	args := inputArgs(src)
	args = append(args,
		"-progress", "pipe:2",
		"-i", src,
		"-loglevel", "error",
		"-vn",
		"-f", "mp3",
		"pipe:1",
	)
	cmd := f.command(args...)
	cmd.Stdout = dst

	var stderr lineBuffer
	onStderr := func(line string) {
		line = strings.TrimPrefix(line, "stderr: ")
		if key, value, found := strings.Cut(line, "="); found && isProgressKey(key) {
			if key == "out_time_ms" && progress != nil {
				if us, err := strconv.ParseInt(value, 10, 64); err == nil {
					progress(time.Duration(us) * time.Microsecond)
				}
			}
			return
		}
		stderr.add(line)
	}

	if err := f.newProcess(cmd).StderrLogger(onStderr).Start(ctx); err != nil {
		return fmt.Errorf("encode audio: %w: %s", err, stderr.String())
	}
	if stderr.Len() != 0 {
		return fmt.Errorf("encode audio: %s", stderr.String()) //nolint:goerr113
	}
	return nil
}

func isProgressKey(key string) bool {
	switch key {
	case "frame", "fps", "bitrate", "total_size", "out_time_us", "out_time_ms",
		"out_time", "dup_frames", "drop_frames", "speed", "progress":
		return true
	}
	return strings.HasPrefix(key, "stream_")
}

// FrameReader reads decoded frames.
type FrameReader interface {
	// ReadFrame reads exactly one frame into buf.
	// Returns io.EOF after the last frame.
	ReadFrame(buf []byte) error

	// Close stops the decoder.
	Close() error
}

// DecodeFramesFunc is used for mocking.
type DecodeFramesFunc func(ctx context.Context, src string, width, height int) (FrameReader, error)

// DecodeFrames decodes src into rgb24 frames of width*height pixels.
// Caller must call Close when done.
func (f *FFMPEG) DecodeFrames(ctx context.Context, src string, width, height int) (FrameReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	args := inputArgs(src)
	args = append(args,
		"-i", src,
		"-loglevel", "error",
		"-an",
		"-s", strconv.Itoa(width)+"x"+strconv.Itoa(height),
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"pipe:1",
	)
	cmd := f.command(args...)

	ctx2, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	s := &FrameStream{
		r:         pr,
		frameSize: width * height * 3,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	process := f.newProcess(cmd).StderrLogger(s.stderr.add)
	go func() {
		err := process.Start(ctx2)
		if err != nil {
			err = fmt.Errorf("decode frames: %w: %s", err, s.stderr.String())
		}
		pw.CloseWithError(err)
		close(s.done)
	}()
	return s, nil
}

// ErrInvalidSize invalid frame size.
var ErrInvalidSize = errors.New("invalid size")

// FrameStream reads rgb24 frames from a ffmpeg process.
type FrameStream struct {
	r         *io.PipeReader
	frameSize int
	stderr    lineBuffer

	cancel context.CancelFunc
	done   chan struct{}
}

// ReadFrame implements FrameReader.
func (s *FrameStream) ReadFrame(buf []byte) error {
	if len(buf) != s.frameSize {
		return fmt.Errorf("%w: got %d, expected %d", ErrInvalidSize, len(buf), s.frameSize)
	}
	_, err := io.ReadFull(s.r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// Close implements FrameReader.
func (s *FrameStream) Close() error {
	s.r.Close()
	s.cancel()
	<-s.done
	return nil
}

// DecodeAudioWAVFunc is used for mocking.
type DecodeAudioWAVFunc func(ctx context.Context, src string, stdin io.Reader, dst io.Writer) error

// DecodeAudioWAV decodes the audio of src to WAV and writes it to dst.
// If stdin is not nil it's used as the input and src is ignored.
func (f *FFMPEG) DecodeAudioWAV(ctx context.Context, src string, stdin io.Reader, dst io.Writer) error {
	var args []string
	if stdin != nil {
		args = []string{"-i", "pipe:0"}
	} else {
		args = append(inputArgs(src), "-i", src)
	}
	args = append(args,
		"-loglevel", "error",
		"-vn",
		"-f", "wav",
		"pipe:1",
	)
	cmd := f.command(args...)
	cmd.Stdin = stdin
	cmd.Stdout = dst

	var stderr lineBuffer
	if err := f.newProcess(cmd).StderrLogger(stderr.add).Start(ctx); err != nil {
		return fmt.Errorf("decode audio: %w: %s", err, stderr.String())
	}
	return nil
}

// lineBuffer collects the last lines of process output.
type lineBuffer struct {
	lines []string
	mu    sync.Mutex
}

const maxLines = 20

func (b *lineBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	line = strings.TrimPrefix(line, "stderr: ")
	if len(b.lines) == maxLines {
		b.lines = b.lines[1:]
	}
	b.lines = append(b.lines, line)
}

func (b *lineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

func (b *lineBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
