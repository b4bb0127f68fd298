package vidtxt

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Reader reads a single vidtxt file.
type Reader struct {
	in     io.ReadSeeker
	closer io.Closer

	header      Header
	fileSize    int64
	frameSize   int64
	totalFrames int64
	duration    float64

	// Set when the cursor is inside the video region.
	inVideo     bool
	framesRead  int64
	audioReader io.ReadSeeker
}

// Open opens and validates a vidtxt file.
// Caller must call Close() when done.
func Open(path string, policy ByteOrderPolicy) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &IOError{Op: "stat", Err: err}
	}

	r, err := NewReader(file, stat.Size(), policy)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReader creates a new reader. The stream must be positioned at
// the start of the file.
func NewReader(in io.ReadSeeker, fileSize int64, policy ByteOrderPolicy) (*Reader, error) {
	pos, err := in.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, &IOError{Op: "tell", Err: err}
	}
	if pos != 0 {
		return nil, fmt.Errorf("%w: position %d", ErrPrecondition, pos)
	}

	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(in, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, &IOError{Op: "read header", Err: err}
	}
	if n < HeaderSize && n >= len(Magic) && string(buf[:len(Magic)]) != Magic {
		return nil, ErrNotVidtxt
	}
	if n < HeaderSize {
		return nil, fmt.Errorf("%w: file is %d bytes", ErrTruncatedHeader, n)
	}

	var header Header
	if err := header.Unmarshal(buf, policy); err != nil {
		return nil, err
	}

	// The video region cannot be located if the audio region is cut short.
	if header.AudioSize > uint64(fileSize) || header.VideoStart() > fileSize {
		return nil, fmt.Errorf("%w: %d byte audio region does not fit in %d byte file",
			ErrSeekIntegrity, header.AudioSize, fileSize)
	}

	totalFrames := TotalFrames(fileSize, header)
	r := &Reader{
		in:          in,
		header:      header,
		fileSize:    fileSize,
		frameSize:   header.FrameSize(),
		totalFrames: totalFrames,
		duration:    Duration(totalFrames, header.FPS),
	}

	if err := r.seek(HeaderSize, "seek to audio start"); err != nil {
		return nil, err
	}
	return r, nil
}

// IsVidtxtFile reports whether path has the vidtxt extension or
// starts with the magic and reserved bytes.
func IsVidtxtFile(path string) (bool, error) {
	if strings.EqualFold(filepath.Ext(path), Ext) {
		return true, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return false, &IOError{Op: "open", Err: err}
	}
	defer file.Close()

	buf := make([]byte, metadataStart)
	if _, err := io.ReadFull(file, buf); err != nil {
		return false, nil //nolint:nilerr
	}
	return string(buf) == Magic+"\x00\x00", nil
}

// TotalFrames returns the number of whole frames in a file of fileSize.
// Trailing bytes shorter than a frame are not counted.
func TotalFrames(fileSize int64, h Header) int64 {
	videoSize := fileSize - h.VideoStart()
	if videoSize <= 0 {
		return 0
	}
	return videoSize / h.FrameSize()
}

// Duration returns the playback duration in seconds as whole seconds
// plus the fractional remainder. The result differs from totalFrames/fps
// in the last bit for some inputs and is kept for display compatibility.
func Duration(totalFrames int64, fps float64) float64 {
	frames := float64(totalFrames)
	return math.Floor(frames/fps) + math.Mod(frames, fps)/fps
}

// FormatDuration formats seconds as HH:MM:SS.mmm.
func FormatDuration(seconds float64) string {
	hours := int64(math.Floor(seconds / 3600))
	minutes := int64(math.Floor(seconds/60)) % 60
	return fmt.Sprintf("%02d:%02d:%06.3f", hours, minutes, math.Mod(seconds, 60))
}

// Header returns a copy of the file header.
func (r *Reader) Header() Header { return r.header }

// Columns terminal width at conversion time.
func (r *Reader) Columns() uint32 { return r.header.Columns }

// Lines terminal height at conversion time.
func (r *Reader) Lines() uint32 { return r.header.Lines }

// PrintColumns frame width.
func (r *Reader) PrintColumns() int { return r.header.PrintColumns() }

// PrintLines frame height.
func (r *Reader) PrintLines() int { return r.header.PrintLines() }

// FPS source frame rate.
func (r *Reader) FPS() float64 { return r.header.FPS }

// AudioSize size of the audio region in bytes.
func (r *Reader) AudioSize() uint64 { return r.header.AudioSize }

// TotalFrames number of frames in the file.
func (r *Reader) TotalFrames() int64 { return r.totalFrames }

// Duration in seconds.
func (r *Reader) Duration() float64 { return r.duration }

// FileSize size of the file in bytes.
func (r *Reader) FileSize() int64 { return r.fileSize }

// FrameSize size of a frame in bytes.
func (r *Reader) FrameSize() int { return int(r.frameSize) }

func (r *Reader) seek(offset int64, op string) error {
	pos, err := r.in.Seek(offset, io.SeekStart)
	if err != nil {
		return &IOError{Op: op, Err: err}
	}
	if pos != offset {
		return fmt.Errorf("%w: %s: landed at %d, expected %d", ErrSeekIntegrity, op, pos, offset)
	}
	return nil
}

// SeekToAudioStart positions the stream at the start of the audio region.
func (r *Reader) SeekToAudioStart() error {
	r.inVideo = false
	return r.seek(HeaderSize, "seek to audio start")
}

// SeekToVideoStart positions the stream at the first frame.
func (r *Reader) SeekToVideoStart() error {
	r.inVideo = false
	videoStart := r.header.VideoStart()
	if videoStart > r.fileSize {
		return fmt.Errorf("%w: video starts at %d, beyond end of file %d",
			ErrSeekIntegrity, videoStart, r.fileSize)
	}
	if err := r.seek(videoStart, "seek to video start"); err != nil {
		return err
	}
	r.inVideo = true
	r.framesRead = 0
	return nil
}

// resumeVideo moves the cursor back to the next unread frame.
func (r *Reader) resumeVideo() error {
	framesRead := r.framesRead
	if err := r.SeekToVideoStart(); err != nil {
		return err
	}
	if framesRead == 0 {
		return nil
	}
	if err := r.seek(r.header.VideoStart()+framesRead*r.frameSize, "seek to frame"); err != nil {
		r.inVideo = false
		return err
	}
	r.framesRead = framesRead
	return nil
}

// AudioRegion returns a reader over the audio payload. Reads stop at the
// end of the audio region and never return video bytes. If the stream
// implements io.ReaderAt the returned reader does not move the frame
// cursor and may be used concurrently with ReadFrame.
func (r *Reader) AudioRegion() io.ReadSeeker {
	size := int64(r.header.AudioSize)
	if ra, ok := r.in.(io.ReaderAt); ok {
		return io.NewSectionReader(ra, HeaderSize, size)
	}
	if r.audioReader == nil {
		r.audioReader = &regionReader{r: r, start: HeaderSize, size: size}
	}
	return r.audioReader
}

// ReadFrame reads the next frame into a new buffer.
// Returns io.EOF when there are no more whole frames.
func (r *Reader) ReadFrame() ([]byte, error) {
	if r.framesRead >= r.totalFrames {
		return nil, io.EOF
	}
	buf := make([]byte, r.frameSize)
	if err := r.ReadFrameInto(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFrameInto reads the next frame into buf, which must be exactly
// FrameSize bytes. A short read is reported as io.EOF.
func (r *Reader) ReadFrameInto(buf []byte) error {
	if int64(len(buf)) != r.frameSize {
		return fmt.Errorf("%w: got %d, expected %d", ErrFrameSize, len(buf), r.frameSize)
	}
	if !r.inVideo {
		if err := r.resumeVideo(); err != nil {
			return err
		}
	}
	if r.framesRead >= r.totalFrames {
		return io.EOF
	}

	_, err := io.ReadFull(r.in, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	if err != nil {
		return &IOError{Op: "read frame", Err: err}
	}
	r.framesRead++
	return nil
}

// Close closes the underlying file if the reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// regionReader bounds reads to [start, start+size) of a stream that
// lacks io.ReaderAt. It shares the cursor with the frame reader.
type regionReader struct {
	r     *Reader
	start int64
	size  int64
	i     int64 // current reading index
}

// Read implements io.Reader .
func (a *regionReader) Read(p []byte) (int, error) {
	if a.i >= a.size {
		return 0, io.EOF
	}
	a.r.inVideo = false
	if err := a.r.seek(a.start+a.i, "seek audio"); err != nil {
		return 0, err
	}

	if remaining := a.size - a.i; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := a.r.in.Read(p)
	a.i += int64(n)
	if errors.Is(err, io.EOF) && a.i < a.size {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

// Seek implements io.Seeker .
func (a *regionReader) Seek(offset int64, whence int) (int64, error) {
	var i int64
	switch whence {
	case io.SeekStart:
		i = offset
	case io.SeekCurrent:
		i = a.i + offset
	case io.SeekEnd:
		i = a.size + offset
	default:
		return 0, fmt.Errorf("seek audio: invalid whence %d", whence) //nolint:goerr113
	}
	if i < 0 {
		return 0, fmt.Errorf("seek audio: negative position %d", i) //nolint:goerr113
	}
	a.i = i
	return i, nil
}
