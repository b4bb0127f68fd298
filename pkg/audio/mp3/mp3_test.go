package mp3

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var headerCases = []struct {
	name   string
	byts   []byte
	header Header
	str    string
}{
	{
		"mpeg1",
		[]byte{0xff, 0xfb, 0x90, 0x00},
		Header{
			Version:     Version1,
			Layer:       Layer3,
			Bitrate:     128,
			SampleRate:  44100,
			ChannelMode: Stereo,
		},
		"MPEG-1 Layer III, 128 kbps, 44100 Hz, Stereo",
	},
	{
		"mpeg2Mono",
		[]byte{0xff, 0xf3, 0x82, 0xc0},
		Header{
			Version:     Version2,
			Layer:       Layer3,
			Bitrate:     64,
			SampleRate:  22050,
			Padding:     true,
			ChannelMode: Mono,
		},
		"MPEG-2 Layer III, 64 kbps, 22050 Hz, Mono",
	},
	{
		"layer2CRC",
		[]byte{0xff, 0xfc, 0x04, 0x40},
		Header{
			Version:     Version1,
			Layer:       Layer2,
			Protected:   true,
			Bitrate:     0,
			SampleRate:  48000,
			ChannelMode: JointStereo,
		},
		"MPEG-1 Layer II, free format, 48000 Hz, Joint Stereo",
	},
}

func TestHeaderDecode(t *testing.T) {
	for _, tc := range headerCases {
		t.Run(tc.name, func(t *testing.T) {
			var h Header
			require.NoError(t, h.Decode(tc.byts))
			require.Equal(t, tc.header, h)
			require.Equal(t, tc.str, h.String())
		})
	}
}

func TestHeaderEncode(t *testing.T) {
	for _, tc := range headerCases {
		t.Run(tc.name, func(t *testing.T) {
			byts, err := tc.header.Encode()
			require.NoError(t, err)
			require.Equal(t, tc.byts, byts)
		})
	}
}

func TestHeaderDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		byts []byte
		err  error
	}{
		{"short", []byte{0xff, 0xfb}, errHeaderTooShort},
		{"noSync", []byte{0xff, 0x1b, 0x90, 0x00}, ErrNoSync},
		{"version", []byte{0xff, 0xeb, 0x90, 0x00}, ErrReservedVersion},
		{"layer", []byte{0xff, 0xf9, 0x90, 0x00}, ErrReservedLayer},
		{"bitrate", []byte{0xff, 0xfb, 0xf0, 0x00}, ErrBitrateInvalid},
		{"sampleRate", []byte{0xff, 0xfb, 0x9c, 0x00}, ErrSampleRateInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var h Header
			require.ErrorIs(t, h.Decode(tc.byts), tc.err)
		})
	}
}

func TestHeaderEncodeErrors(t *testing.T) {
	valid := headerCases[0].header

	h := valid
	h.Bitrate = 129
	_, err := h.Encode()
	require.ErrorIs(t, err, ErrEncodeBitrate)

	h = valid
	h.SampleRate = 8000
	_, err = h.Encode()
	require.ErrorIs(t, err, ErrEncodeSampleRate)

	h = valid
	h.Layer = LayerReserved
	_, err = h.Encode()
	require.ErrorIs(t, err, ErrReservedLayer)
}

func TestDuration(t *testing.T) {
	h := headerCases[0].header

	d, err := h.Duration(16000)
	require.NoError(t, err)
	require.Equal(t, 1*time.Second, d)

	d, err = h.Duration(4000)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)

	_, err = headerCases[2].header.Duration(4000)
	require.ErrorIs(t, err, ErrUnknownBitrate)
}

func TestProbe(t *testing.T) {
	frame := append([]byte{0xff, 0xfb, 0x90, 0x00}, make([]byte, 100)...)

	t.Run("plain", func(t *testing.T) {
		h, err := Probe(bytes.NewReader(frame))
		require.NoError(t, err)
		require.Equal(t, headerCases[0].header, *h)
	})
	t.Run("id3", func(t *testing.T) {
		// 200 byte tag, syncsafe size 0x01 0x48.
		tag := append([]byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0x01, 0x48}, make([]byte, 200)...)
		// Sync bytes inside the tag must be skipped.
		tag[20], tag[21], tag[22], tag[23] = 0xff, 0xf3, 0x82, 0xc0

		h, err := Probe(bytes.NewReader(append(tag, frame...)))
		require.NoError(t, err)
		require.Equal(t, headerCases[0].header, *h)
	})
	t.Run("id3Footer", func(t *testing.T) {
		tag := append([]byte{'I', 'D', '3', 4, 0, 0x10, 0, 0, 0, 2}, make([]byte, 2+10)...)

		h, err := Probe(bytes.NewReader(append(tag, frame...)))
		require.NoError(t, err)
		require.Equal(t, headerCases[0].header, *h)
	})
	t.Run("garbage", func(t *testing.T) {
		data := append([]byte{0xff, 0x00, 0xff, 0xe0, 0x12}, frame...)

		h, err := Probe(bytes.NewReader(data))
		require.NoError(t, err)
		require.Equal(t, headerCases[0].header, *h)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := Probe(bytes.NewReader(nil))
		require.ErrorIs(t, err, ErrHeaderNotFound)
	})
	t.Run("noHeader", func(t *testing.T) {
		_, err := Probe(bytes.NewReader(make([]byte, 100)))
		require.ErrorIs(t, err, ErrHeaderNotFound)
	})
	t.Run("scanLimit", func(t *testing.T) {
		data := append(make([]byte, MaxScan), frame...)
		_, err := Probe(bytes.NewReader(data))
		require.ErrorIs(t, err, ErrHeaderNotFound)
	})
	t.Run("truncatedID3", func(t *testing.T) {
		tag := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0x01, 0x48, 1, 2}
		_, err := Probe(bytes.NewReader(tag))
		require.ErrorIs(t, err, ErrHeaderNotFound)
	})
	t.Run("invalidID3Size", func(t *testing.T) {
		tag := []byte{'I', 'D', '3', 4, 0, 0, 0x80, 0, 0, 0}
		_, err := Probe(bytes.NewReader(append(tag, frame...)))
		require.ErrorIs(t, err, errID3TagSizeInvalid)
	})
}
