package vafs

import "golang.org/x/xerrors"

// Architecture identifies the target CPU architecture an image was built
// for, stored verbatim in the image header.
type Architecture uint32

const (
	ArchUnknown Architecture = 0x00000000
	ArchX86     Architecture = 0x8086
	ArchX64     Architecture = 0x8664
	ArchARM     Architecture = 0xA12B
	ArchARM64   Architecture = 0xAA64
	ArchRV32    Architecture = 0x5032
	ArchRV64    Architecture = 0x5064
	ArchAll     Architecture = 0xDEAD
)

// archNames maps the CLI's --arch identifiers to their Architecture value,
// mirroring the builder flag surface in §6.
var archNames = map[string]Architecture{
	"i386":  ArchX86,
	"amd64": ArchX64,
	"arm":   ArchARM,
	"arm64": ArchARM64,
	"rv32":  ArchRV32,
	"rv64":  ArchRV64,
	"all":   ArchAll,
}

// ParseArchitecture resolves a --arch flag value to an Architecture.
func ParseArchitecture(name string) (Architecture, error) {
	if a, ok := archNames[name]; ok {
		return a, nil
	}
	return ArchUnknown, xerrors.Errorf("unknown architecture %q: %w", name, ErrInvalidArgument)
}

func (a Architecture) String() string {
	for name, v := range archNames {
		if v == a {
			return name
		}
	}
	return "unknown"
}
