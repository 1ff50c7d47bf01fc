package codec

import (
	"bytes"
	"io"

	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/block"
	"github.com/klauspost/pgzip"
)

// Gzip returns a block.Codec backed by klauspost/pgzip, a parallel gzip
// implementation, grounded in the builder CLI's use of pgzip for packing
// image payloads.
func Gzip(level int) (*block.Codec, error) {
	return &block.Codec{
		Encode: func(uncompressed []byte) ([]byte, error) {
			var buf bytes.Buffer
			w, err := pgzip.NewWriterLevel(&buf, level)
			if err != nil {
				return nil, xerrors.Errorf("gzip encode: %w", err)
			}
			if _, err := w.Write(uncompressed); err != nil {
				return nil, xerrors.Errorf("gzip encode: %w", err)
			}
			if err := w.Close(); err != nil {
				return nil, xerrors.Errorf("gzip encode: %w", err)
			}
			return buf.Bytes(), nil
		},
		Decode: func(encoded []byte, dst []byte) (int, error) {
			r, err := pgzip.NewReader(bytes.NewReader(encoded))
			if err != nil {
				return 0, xerrors.Errorf("gzip decode: %w", err)
			}
			defer r.Close()
			n, err := io.ReadFull(r, dst)
			if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
				return 0, xerrors.Errorf("gzip decode: %w", err)
			}
			return n, nil
		},
	}, nil
}
