// Package mp3 reads MPEG audio frame headers.
package mp3

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/icza/bitio"
)

// Version MPEG version.
type Version uint8

// Versions, values match the header bits.
const (
	Version25       Version = 0
	VersionReserved Version = 1
	Version2        Version = 2
	Version1        Version = 3
)

func (v Version) String() string {
	switch v {
	case Version1:
		return "MPEG-1"
	case Version2:
		return "MPEG-2"
	case Version25:
		return "MPEG-2.5"
	}
	return "reserved"
}

// Layer MPEG layer.
type Layer uint8

// Layers, values match the header bits.
const (
	LayerReserved Layer = 0
	Layer3        Layer = 1
	Layer2        Layer = 2
	Layer1        Layer = 3
)

func (l Layer) String() string {
	switch l {
	case Layer1:
		return "Layer I"
	case Layer2:
		return "Layer II"
	case Layer3:
		return "Layer III"
	}
	return "reserved"
}

// ChannelMode channel mode.
type ChannelMode uint8

// Channel modes.
const (
	Stereo      ChannelMode = 0
	JointStereo ChannelMode = 1
	DualChannel ChannelMode = 2
	Mono        ChannelMode = 3
)

func (c ChannelMode) String() string {
	switch c {
	case Stereo:
		return "Stereo"
	case JointStereo:
		return "Joint Stereo"
	case DualChannel:
		return "Dual Channel"
	}
	return "Mono"
}

// Kilobits per second, index 0 is free format.
var bitrates = map[Version]map[Layer][15]int{
	Version1: {
		Layer1: {0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448},
		Layer2: {0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384},
		Layer3: {0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320},
	},
	Version2: {
		Layer1: {0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256},
		Layer2: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
		Layer3: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
	},
}

var sampleRates = map[Version][3]int{
	Version1:  {44100, 48000, 32000},
	Version2:  {22050, 24000, 16000},
	Version25: {11025, 12000, 8000},
}

func bitrateTable(v Version, l Layer) [15]int {
	if v == Version25 {
		v = Version2
	}
	return bitrates[v][l]
}

// Errors.
var (
	ErrNoSync             = errors.New("no frame sync")
	ErrReservedVersion    = errors.New("reserved version")
	ErrReservedLayer      = errors.New("reserved layer")
	ErrBitrateInvalid     = errors.New("invalid bitrate index")
	ErrSampleRateInvalid  = errors.New("invalid sample rate index")
	ErrEncodeBitrate      = errors.New("bitrate not in table")
	ErrEncodeSampleRate   = errors.New("sample rate not in table")
	ErrHeaderNotFound     = errors.New("no frame header found")
	ErrUnknownBitrate     = errors.New("unknown bitrate")
	errHeaderTooShort     = errors.New("header too short")
	errID3TagSizeInvalid  = errors.New("invalid ID3 tag size")
	errScanLimitExhausted = errors.New("scan limit reached")
)

// HeaderSize size of a frame header in bytes.
const HeaderSize = 4

// Header MPEG audio frame header.
type Header struct {
	Version     Version
	Layer       Layer
	Protected   bool // CRC follows the header.
	Bitrate     int  // Kilobits per second, zero for free format.
	SampleRate  int  // Hz.
	Padding     bool
	ChannelMode ChannelMode
}

// Decode decodes a frame header.
func (h *Header) Decode(byts []byte) error { //nolint:funlen
	// ref: http://www.mp3-tech.org/programmer/frame_header.html
	if len(byts) < HeaderSize {
		return errHeaderTooShort
	}

	r := bitio.NewReader(bytes.NewReader(byts[:HeaderSize]))

	sync, err := r.ReadBits(11)
	if err != nil {
		return err
	}
	if sync != 0x7ff {
		return ErrNoSync
	}

	tmp, err := r.ReadBits(2)
	if err != nil {
		return err
	}
	h.Version = Version(tmp)
	if h.Version == VersionReserved {
		return ErrReservedVersion
	}

	tmp, err = r.ReadBits(2)
	if err != nil {
		return err
	}
	h.Layer = Layer(tmp)
	if h.Layer == LayerReserved {
		return ErrReservedLayer
	}

	noCRC, err := r.ReadBool()
	if err != nil {
		return err
	}
	h.Protected = !noCRC

	bitrateIndex, err := r.ReadBits(4)
	if err != nil {
		return err
	}
	if bitrateIndex == 15 {
		return fmt.Errorf("%w: %d", ErrBitrateInvalid, bitrateIndex)
	}
	h.Bitrate = bitrateTable(h.Version, h.Layer)[bitrateIndex]

	sampleRateIndex, err := r.ReadBits(2)
	if err != nil {
		return err
	}
	if sampleRateIndex == 3 {
		return fmt.Errorf("%w: %d", ErrSampleRateInvalid, sampleRateIndex)
	}
	h.SampleRate = sampleRates[h.Version][sampleRateIndex]

	h.Padding, err = r.ReadBool()
	if err != nil {
		return err
	}

	// Private bit.
	if _, err := r.ReadBool(); err != nil {
		return err
	}

	tmp, err = r.ReadBits(2)
	if err != nil {
		return err
	}
	h.ChannelMode = ChannelMode(tmp)

	// Mode extension, copyright, original and emphasis are ignored.
	return nil
}

// Encode encodes the frame header. Ignored fields are zero.
func (h Header) Encode() ([]byte, error) {
	if h.Version == VersionReserved {
		return nil, ErrReservedVersion
	}
	if h.Layer == LayerReserved {
		return nil, ErrReservedLayer
	}

	bitrateIndex := -1
	for i, bitrate := range bitrateTable(h.Version, h.Layer) {
		if bitrate == h.Bitrate {
			bitrateIndex = i
			break
		}
	}
	if bitrateIndex == -1 {
		return nil, fmt.Errorf("%w: %d", ErrEncodeBitrate, h.Bitrate)
	}

	sampleRateIndex := -1
	for i, rate := range sampleRates[h.Version] {
		if rate == h.SampleRate {
			sampleRateIndex = i
			break
		}
	}
	if sampleRateIndex == -1 {
		return nil, fmt.Errorf("%w: %d", ErrEncodeSampleRate, h.SampleRate)
	}

	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)

	w.TryWriteBits(0x7ff, 11)
	w.TryWriteBits(uint64(h.Version), 2)
	w.TryWriteBits(uint64(h.Layer), 2)
	w.TryWriteBool(!h.Protected)
	w.TryWriteBits(uint64(bitrateIndex), 4)
	w.TryWriteBits(uint64(sampleRateIndex), 2)
	w.TryWriteBool(h.Padding)
	w.TryWriteBool(false) // Private.
	w.TryWriteBits(uint64(h.ChannelMode), 2)
	w.TryWriteBits(0, 6) // Mode extension, copyright, original, emphasis.
	if w.TryError != nil {
		return nil, w.TryError
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h Header) String() string {
	bitrate := "free format"
	if h.Bitrate != 0 {
		bitrate = fmt.Sprintf("%d kbps", h.Bitrate)
	}
	return fmt.Sprintf("%v %v, %v, %d Hz, %v",
		h.Version, h.Layer, bitrate, h.SampleRate, h.ChannelMode)
}

// Duration estimates the play time of size bytes of audio with
// a constant bitrate.
func (h Header) Duration(size int64) (time.Duration, error) {
	if h.Bitrate == 0 {
		return 0, ErrUnknownBitrate
	}
	bitsPerSecond := int64(h.Bitrate) * 1000
	return time.Duration(size * 8 * int64(time.Second) / bitsPerSecond), nil
}

// ID3v2 tag header.
const (
	id3HeaderSize = 10
	id3FooterFlag = 0x10
)

// MaxScan is the number of bytes after the ID3 tag
// that are searched for the first frame header.
const MaxScan = 64 * 1024

// Probe returns the first valid frame header in r.
// A leading ID3v2 tag is skipped.
func Probe(r io.Reader) (*Header, error) {
	br := bufio.NewReader(r)

	if err := skipID3(br); err != nil {
		return nil, err
	}

	for i := 0; i < MaxScan; i++ {
		peek, err := br.Peek(HeaderSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrHeaderNotFound
			}
			return nil, err
		}
		var h Header
		if h.Decode(peek) == nil {
			return &h, nil
		}
		if _, err := br.Discard(1); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrHeaderNotFound, errScanLimitExhausted)
}

func skipID3(br *bufio.Reader) error {
	header, err := br.Peek(id3HeaderSize)
	if err != nil || !bytes.Equal(header[:3], []byte("ID3")) {
		// Too short for a tag, Probe reports the missing header.
		return nil //nolint:nilerr
	}

	var size int64
	for _, b := range header[6:10] {
		if b&0x80 != 0 {
			return errID3TagSizeInvalid
		}
		size = size<<7 | int64(b)
	}
	size += id3HeaderSize
	if header[5]&id3FooterFlag != 0 {
		size += id3HeaderSize
	}

	if _, err := br.Discard(int(size)); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrHeaderNotFound
		}
		return err
	}
	return nil
}
