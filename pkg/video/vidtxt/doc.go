// Package vidtxt reads and writes ASCII videos in the vidtxt container format.
package vidtxt

// A vidtxt file is a single seekable container.
// Requirements.
//   1. Frame count and duration must be derivable from the header and the
//      file size alone.
//   2. Frames must be readable without an index.
//   3. Audio is optional.
//
//
// <name>.vidtxt
//   header     [64]byte
//   audio      [audioSize]byte   MP3 stream, absent if audioSize is 0.
//   frames     [][frameSize]byte until EOF.
//
//
// header { // 64 bytes. All integers are big-endian.
//   magic     [6]byte "VIDTXT"
//   reserved0 [2]byte
//   columns   uint32
//   lines     uint32
//   fps       float64
//   audioSize uint64
//   reserved1 [32]byte
// }
//
// frameSize = (columns-1) * (lines-1)
// The last column and line of the terminal are never part of a frame.
// Trailing bytes shorter than a frame are ignored.
