package vafs

import (
	"errors"
	"io"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/Meulengracht/vali-rofs/internal/block"
)

func buildSampleImage(t *testing.T) []byte {
	t.Helper()
	cfg := NewConfiguration().SetArchitecture(ArchX64)
	img, err := CreateMemory(cfg)
	if err != nil {
		t.Fatal(err)
	}

	bin, err := img.Root().CreateSubdirectory("bin", 0o755)
	if err != nil {
		t.Fatal(err)
	}
	fh, err := bin.CreateFile("hello", 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fh.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if err := fh.Close(); err != nil {
		t.Fatal(err)
	}
	if err := img.Root().CreateSymlink("link", "bin/hello"); err != nil {
		t.Fatal(err)
	}
	if err := img.FeatureAdd(GUID{D1: 0xcafe}, []byte("custom payload")); err != nil {
		t.Fatal(err)
	}

	if err := img.Close(); err != nil {
		t.Fatal(err)
	}
	data, ok := img.Bytes()
	if !ok {
		t.Fatal("expected Bytes to report ok for a memory-backed image")
	}
	return data
}

func TestCreateMemoryThenOpenMemoryRoundTrip(t *testing.T) {
	data := buildSampleImage(t)

	img, err := OpenMemory(data)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	fh, err := img.OpenFile("/bin/hello")
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	got := make([]byte, fh.Length())
	if _, err := io.ReadFull(fh, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestPathStatReportsTypeAndPermissions(t *testing.T) {
	data := buildSampleImage(t)
	img, err := OpenMemory(data)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	st, err := img.PathStat("/bin")
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		t.Fatalf("bin mode = %#o, want S_IFDIR bit set", st.Mode)
	}
	if st.Mode&0o777 != 0o755 {
		t.Fatalf("bin perm = %#o, want 0755", st.Mode&0o777)
	}

	st, err = img.PathStat("/bin/hello")
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		t.Fatalf("hello mode = %#o, want S_IFREG bit set", st.Mode)
	}
	if st.Size != uint64(len("hello world")) {
		t.Fatalf("hello size = %d, want %d", st.Size, len("hello world"))
	}
}

func TestPathStatFollowsSymlink(t *testing.T) {
	data := buildSampleImage(t)
	img, err := OpenMemory(data)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	st, err := img.PathStat("/link")
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		t.Fatalf("/link resolved mode = %#o, want S_IFREG (following the symlink)", st.Mode)
	}
}

func TestOpenSymlinkDoesNotFollow(t *testing.T) {
	data := buildSampleImage(t)
	img, err := OpenMemory(data)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	sh, err := img.OpenSymlink("/link")
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Close()
	if sh.Target() != "bin/hello" {
		t.Fatalf("target = %q, want %q", sh.Target(), "bin/hello")
	}
}

func TestDirectoryHandleReadEntryEndsWithNotFound(t *testing.T) {
	data := buildSampleImage(t)
	img, err := OpenMemory(data)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	root := img.Root()
	count := 0
	for {
		_, _, err := root.ReadEntry()
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("root has %d entries, want 2 (bin, link)", count)
	}
}

func TestFeatureAddAndQueryRoundTrip(t *testing.T) {
	data := buildSampleImage(t)
	img, err := OpenMemory(data)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	payload, err := img.FeatureQuery(GUID{D1: 0xcafe})
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "custom payload" {
		t.Fatalf("got %q, want %q", payload, "custom payload")
	}
}

func TestFeatureQueryMissingReturnsNotFound(t *testing.T) {
	data := buildSampleImage(t)
	img, err := OpenMemory(data)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()

	if _, err := img.FeatureQuery(GUID{D1: 0xdeadbeef}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSetCodecRoundTripsFileContent(t *testing.T) {
	cfg := NewConfiguration().SetArchitecture(ArchX64)
	img, err := CreateMemory(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := img.SetCodec("identity", passthroughCodec()); err != nil {
		t.Fatal(err)
	}

	fh, err := img.Root().CreateFile("data.bin", 0o644)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("content compressed with a pluggable codec")
	if _, err := fh.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := fh.Close(); err != nil {
		t.Fatal(err)
	}
	if err := img.Close(); err != nil {
		t.Fatal(err)
	}
	data, _ := img.Bytes()

	rimg, err := OpenMemory(data)
	if err != nil {
		t.Fatal(err)
	}
	defer rimg.Close()

	filterName, err := rimg.FeatureQuery(FilterGUID)
	if err != nil {
		t.Fatal(err)
	}
	if string(filterName) != "identity" {
		t.Fatalf("filter feature = %q, want %q", filterName, "identity")
	}

	// The persisted Filter feature records which codec was used, but
	// decoding still requires the reader to install a matching codec itself.
	rimg.dataStream.SetCodec(passthroughCodec())

	rfh, err := rimg.OpenFile("/data.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer rfh.Close()
	got := make([]byte, rfh.Length())
	if _, err := io.ReadFull(rfh, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

// passthroughCodec exercises the SetCodec hook without pulling in a real
// compression library into this package's tests.
func passthroughCodec() *block.Codec {
	return &block.Codec{
		Encode: func(p []byte) ([]byte, error) {
			out := make([]byte, len(p))
			copy(out, p)
			return out, nil
		},
		Decode: func(encoded, dst []byte) (int, error) {
			return copy(dst, encoded), nil
		},
	}
}
