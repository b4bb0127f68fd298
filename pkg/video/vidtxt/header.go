package vidtxt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"
)

// Layout constants shared by the reader and the writer.
const (
	Magic      = "VIDTXT"
	HeaderSize = 64
	Ext        = ".vidtxt"

	// MinResolution is the smallest accepted columns and lines value.
	MinResolution = 2

	metadataStart   = 8
	fpsOffset       = 16
	audioSizeOffset = 24
	reserved1Offset = 32

	// Bytes known before the audio payload is materialized.
	placeholderSize = audioSizeOffset
)

// ByteOrderPolicy decides how the fps field is decoded.
type ByteOrderPolicy uint8

// Byte order policies.
const (
	// StrictByteOrder only accepts a big-endian fps.
	StrictByteOrder ByteOrderPolicy = iota

	// LegacyByteOrder falls back to a little-endian fps once if the
	// big-endian value fails the sanity probe. Early writers stored
	// fps in native order.
	LegacyByteOrder
)

// Header vidtxt file header.
type Header struct {
	Columns   uint32
	Lines     uint32
	FPS       float64
	AudioSize uint64

	// FPSByteOrder is the byte order fps was decoded with.
	// Nil for headers that were never unmarshaled.
	FPSByteOrder binary.ByteOrder
}

// PrintColumns width of a frame.
func (h Header) PrintColumns() int {
	return int(h.Columns) - 1
}

// PrintLines height of a frame.
func (h Header) PrintLines() int {
	return int(h.Lines) - 1
}

// FrameSize size of a single frame in bytes.
func (h Header) FrameSize() int64 {
	return frameSize(h.Columns, h.Lines)
}

// VideoStart offset of the first frame.
func (h Header) VideoStart() int64 {
	return HeaderSize + int64(h.AudioSize)
}

// LegacyByteOrder reports if fps was stored in little-endian.
func (h Header) LegacyByteOrder() bool {
	return h.FPSByteOrder == binary.LittleEndian
}

func frameSize(columns, lines uint32) int64 {
	return (int64(columns) - 1) * (int64(lines) - 1)
}

// The frame size must fit in an int so a frame can be allocated.
func validResolution(columns, lines uint32) bool {
	if columns < MinResolution || lines < MinResolution {
		return false
	}
	hi, lo := bits.Mul64(uint64(columns)-1, uint64(lines)-1)
	return hi == 0 && lo <= math.MaxInt
}

// Negative, infinite and zero fps values are rejected. Zero is caught by
// its infinite reciprocal.
func validFPS(fps float64) bool {
	return fps >= 0 && !math.IsInf(fps, 0) && !math.IsInf(1/fps, 0)
}

// Encode returns the 64 byte header. Inputs are not validated.
func Encode(columns, lines uint32, fps float64, audioSize uint64) []byte {
	out := make([]byte, HeaderSize)
	putVideoParams(out, columns, lines, fps)
	binary.BigEndian.PutUint64(out[audioSizeOffset:reserved1Offset], audioSize)
	return out
}

func putVideoParams(out []byte, columns, lines uint32, fps float64) {
	copy(out[0:len(Magic)], Magic)
	binary.BigEndian.PutUint32(out[8:12], columns)
	binary.BigEndian.PutUint32(out[12:16], lines)
	binary.BigEndian.PutUint64(out[fpsOffset:audioSizeOffset], math.Float64bits(fps))
}

// Marshal header.
func (h Header) Marshal() []byte {
	return Encode(h.Columns, h.Lines, h.FPS, h.AudioSize)
}

// Decode is Unmarshal under the strict byte order policy.
func Decode(buf []byte) (*Header, error) {
	var h Header
	if err := h.Unmarshal(buf, StrictByteOrder); err != nil {
		return nil, err
	}
	return &h, nil
}

// Unmarshal header from buf.
func (h *Header) Unmarshal(buf []byte, policy ByteOrderPolicy) error {
	if len(buf) < len(Magic) {
		return fmt.Errorf("%w: %d bytes", ErrTruncatedHeader, len(buf))
	}
	if !bytes.Equal(buf[:len(Magic)], []byte(Magic)) {
		return ErrNotVidtxt
	}

	r := bytes.NewReader(buf)
	if _, err := r.Seek(metadataStart, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncatedHeader, err)
	}

	var (
		columns   uint32
		lines     uint32
		rawFPS    [8]byte
		audioSize uint64
	)
	fields := []interface{}{&columns, &lines, &rawFPS, &audioSize}
	fieldsRead := 0
	for _, field := range fields {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			break
		}
		fieldsRead++
	}
	if fieldsRead != len(fields) {
		return fmt.Errorf("%w: read %d of %d fields",
			ErrTruncatedHeader, fieldsRead, len(fields))
	}

	fps, order, err := decodeFPS(rawFPS, policy)
	if err != nil {
		return err
	}

	if !validResolution(columns, lines) {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, columns, lines)
	}

	h.Columns = columns
	h.Lines = lines
	h.FPS = fps
	h.AudioSize = audioSize
	h.FPSByteOrder = order
	return nil
}

// Under LegacyByteOrder a big-endian fps above this is treated as a
// possible little-endian value. Little-endian 23.976 reads as 1e158.
const maxPlausibleFPS = 1000

func decodeFPS(raw [8]byte, policy ByteOrderPolicy) (float64, binary.ByteOrder, error) {
	fps := math.Float64frombits(binary.BigEndian.Uint64(raw[:]))
	if policy != LegacyByteOrder {
		if validFPS(fps) {
			return fps, binary.BigEndian, nil
		}
		return 0, nil, fmt.Errorf("%w: fps %v", ErrCorruptHeader, fps)
	}

	if validFPS(fps) && fps <= maxPlausibleFPS {
		return fps, binary.BigEndian, nil
	}
	leFPS := math.Float64frombits(binary.LittleEndian.Uint64(raw[:]))
	if validFPS(leFPS) && leFPS <= maxPlausibleFPS {
		return leFPS, binary.LittleEndian, nil
	}
	if validFPS(fps) {
		return fps, binary.BigEndian, nil
	}
	return 0, nil, fmt.Errorf("%w: fps %v in either byte order", ErrCorruptHeader, fps)
}

// HeaderBuilder builds a header in two stages. Video parameters are
// known when a conversion starts, the audio size only once the audio
// payload has been fully encoded.
type HeaderBuilder struct{}

// NewHeaderBuilder returns a header builder.
func NewHeaderBuilder() HeaderBuilder {
	return HeaderBuilder{}
}

// WithVideoParams validates and stores the video parameters.
func (HeaderBuilder) WithVideoParams(columns, lines uint32, fps float64) (VideoHeader, error) {
	if !validResolution(columns, lines) {
		return VideoHeader{}, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, columns, lines)
	}
	if fps <= 0 || !validFPS(fps) {
		return VideoHeader{}, fmt.Errorf("%w: %v", ErrInvalidFPS, fps)
	}
	return VideoHeader{columns: columns, lines: lines, fps: fps}, nil
}

// VideoHeader is a header without its audio size. It cannot be
// marshaled as a whole.
type VideoHeader struct {
	columns uint32
	lines   uint32
	fps     float64
}

// MarshalPlaceholder returns the first 24 header bytes.
func (v VideoHeader) MarshalPlaceholder() []byte {
	out := make([]byte, placeholderSize)
	putVideoParams(out, v.columns, v.lines, v.fps)
	return out
}

// FrameSize size of a single frame in bytes.
func (v VideoHeader) FrameSize() int64 {
	return frameSize(v.columns, v.lines)
}

// WithAudioPayload completes the header for audio.
func (v VideoHeader) WithAudioPayload(audio []byte) FinalHeader {
	return v.WithAudioSize(uint64(len(audio)))
}

// WithAudioSize completes the header for an audio payload of size bytes.
func (v VideoHeader) WithAudioSize(size uint64) FinalHeader {
	return FinalHeader{video: v, audioSize: size}
}

// FinalHeader is a complete header.
type FinalHeader struct {
	video     VideoHeader
	audioSize uint64
}

// Header returns the header values.
func (f FinalHeader) Header() Header {
	return Header{
		Columns:      f.video.columns,
		Lines:        f.video.lines,
		FPS:          f.video.fps,
		AudioSize:    f.audioSize,
		FPSByteOrder: binary.BigEndian,
	}
}

// Marshal header.
func (f FinalHeader) Marshal() []byte {
	return Encode(f.video.columns, f.video.lines, f.video.fps, f.audioSize)
}

// marshalCompletion returns the last 40 header bytes.
func (f FinalHeader) marshalCompletion() []byte {
	return f.Marshal()[placeholderSize:]
}
