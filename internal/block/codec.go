package block

// EncodeFunc compresses (or otherwise transforms) one block's uncompressed
// bytes, returning the encoded bytes. The stream owns the returned slice and
// discards it once written.
type EncodeFunc func(uncompressed []byte) ([]byte, error)

// DecodeFunc reverses EncodeFunc. dst is the stream's staging buffer (sized
// to the stream's block size); the decoder writes the uncompressed block
// into it and returns the number of bytes actually produced.
type DecodeFunc func(encoded []byte, dst []byte) (int, error)

// Codec is the pluggable per-block encode/decode pair from 4.B/4.G. Only the
// interface is core; concrete codecs (zstd, gzip, ...) are external
// collaborators layered on top in internal/codec.
type Codec struct {
	Encode EncodeFunc
	Decode DecodeFunc
}
