// Package term controls the terminal the player draws on.
package term

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// ANSI escape sequences.
const (
	AltScreenEnter = "\x1b[?1049h"
	AltScreenLeave = "\x1b[?1049l"
	CursorHide     = "\x1b[?25l"
	CursorShow     = "\x1b[?25h"
	CursorHome     = "\x1b[H"
	ClearScreen    = "\x1b[2J"
	ClearLine      = "\x1b[2K"
)

// ErrNoSize terminal reported a zero size.
var ErrNoSize = errors.New("terminal size unknown")

// SizeFunc is used for mocking.
type SizeFunc func() (columns int, lines int, err error)

// Size returns the size of the terminal connected to fd.
func Size(fd int) (int, int, error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, fmt.Errorf("get window size: %w", err)
	}
	if ws.Col == 0 || ws.Row == 0 {
		return 0, 0, ErrNoSize
	}
	return int(ws.Col), int(ws.Row), nil
}

// NewSizeFunc returns a SizeFunc for fd.
func NewSizeFunc(fd int) SizeFunc {
	return func() (int, int, error) {
		return Size(fd)
	}
}

// IsTerminal reports whether fd is a terminal.
func IsTerminal(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	return err == nil
}

// Screen switches a terminal to and from the alternate screen.
type Screen struct {
	w       io.Writer
	entered bool
}

// NewScreen returns a screen that writes to w.
func NewScreen(w io.Writer) *Screen {
	return &Screen{w: w}
}

// Enter switches to the alternate screen and hides the cursor.
func (s *Screen) Enter() error {
	if s.entered {
		return nil
	}
	if _, err := io.WriteString(s.w, AltScreenEnter+CursorHide+ClearScreen+CursorHome); err != nil {
		return err
	}
	s.entered = true
	return nil
}

// Leave restores the cursor and the main screen.
// Does nothing if Enter was not called.
func (s *Screen) Leave() error {
	if !s.entered {
		return nil
	}
	s.entered = false
	_, err := io.WriteString(s.w, CursorShow+AltScreenLeave)
	return err
}
