// Package codec provides concrete Filter implementations for the core's
// pluggable per-block codec hook (block.Codec). Neither implementation is
// part of the core invariants; they exist to give mkvafs something real to
// select between via --compression.
package codec

import (
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/block"
	"github.com/klauspost/compress/zstd"
)

// Zstd returns a block.Codec backed by klauspost/compress/zstd at the given
// compression level.
func Zstd(level zstd.EncoderLevel) (*block.Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, xerrors.Errorf("construct zstd codec: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, xerrors.Errorf("construct zstd codec: %w", err)
	}

	return &block.Codec{
		Encode: func(uncompressed []byte) ([]byte, error) {
			return enc.EncodeAll(uncompressed, nil), nil
		},
		Decode: func(encoded []byte, dst []byte) (int, error) {
			out, err := dec.DecodeAll(encoded, dst[:0])
			if err != nil {
				return 0, xerrors.Errorf("zstd decode: %w", err)
			}
			if len(out) > len(dst) {
				return 0, xerrors.Errorf("zstd decode: block exceeds staging buffer")
			}
			if len(out) > 0 && &out[0] != &dst[0] {
				copy(dst, out)
			}
			return len(out), nil
		},
	}, nil
}
