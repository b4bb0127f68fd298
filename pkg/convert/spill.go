// SPDX-License-Identifier: GPL-2.0-or-later

package convert

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// spillBuffer buffers encoded audio in memory until it grows past
// limit, the rest is written to a temporary file.
type spillBuffer struct {
	limit int64
	dir   string

	mem  bytes.Buffer
	file *os.File
	size int64
}

func newSpillBuffer(limit int64, dir string) *spillBuffer {
	return &spillBuffer{limit: limit, dir: dir}
}

func (b *spillBuffer) Write(p []byte) (int, error) {
	if b.file == nil && int64(b.mem.Len()+len(p)) > b.limit {
		if err := b.spill(); err != nil {
			return 0, err
		}
	}

	var n int
	var err error
	if b.file != nil {
		n, err = b.file.Write(p)
	} else {
		n, err = b.mem.Write(p)
	}
	b.size += int64(n)
	return n, err
}

func (b *spillBuffer) spill() error {
	file, err := os.CreateTemp(b.dir, "vidtty-audio-*.mp3")
	if err != nil {
		return fmt.Errorf("create spill file: %w", err)
	}
	if _, err := file.Write(b.mem.Bytes()); err != nil {
		file.Close()
		os.Remove(file.Name())
		return fmt.Errorf("write spill file: %w", err)
	}
	b.mem = bytes.Buffer{}
	b.file = file
	return nil
}

// Size number of bytes written.
func (b *spillBuffer) Size() int64 {
	return b.size
}

// Spilled reports whether the audio was moved to a file.
func (b *spillBuffer) Spilled() bool {
	return b.file != nil
}

// Reader returns a reader over everything written so far.
func (b *spillBuffer) Reader() (io.Reader, error) {
	if b.file == nil {
		return bytes.NewReader(b.mem.Bytes()), nil
	}
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek spill file: %w", err)
	}
	return b.file, nil
}

// Reset discards the buffered audio.
func (b *spillBuffer) Reset() error {
	b.mem.Reset()
	b.size = 0
	return b.Close()
}

// Close removes the spill file.
func (b *spillBuffer) Close() error {
	if b.file == nil {
		return nil
	}
	file := b.file
	b.file = nil
	file.Close()
	return os.Remove(file.Name())
}
