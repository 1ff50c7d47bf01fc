package vafs

import (
	"golang.org/x/xerrors"

	"github.com/Meulengracht/vali-rofs/internal/block"
)

// Configuration gathers the parameters that affect a builder's output,
// mirroring vafs_config_initialize/vafs_config_set_architecture/
// vafs_config_set_block_size in the original C API.
type Configuration struct {
	Architecture  Architecture
	DataBlockSize uint32
}

// NewConfiguration returns a Configuration with the default data block size
// and an unknown architecture, ready to be refined with SetArchitecture and
// SetBlockSize before a call to Create.
func NewConfiguration() *Configuration {
	return &Configuration{
		Architecture:  ArchUnknown,
		DataBlockSize: block.DefaultDataBlockSize,
	}
}

// SetArchitecture records the target architecture for the image header.
func (c *Configuration) SetArchitecture(a Architecture) *Configuration {
	c.Architecture = a
	return c
}

// SetBlockSize sets the data stream's block size, which must lie in
// [8 KiB, 1 MiB].
func (c *Configuration) SetBlockSize(size uint32) (*Configuration, error) {
	if size < block.MinBlockSize || size > block.MaxBlockSize {
		return c, xerrors.Errorf("set block size %d: %w", size, ErrInvalidArgument)
	}
	c.DataBlockSize = size
	return c, nil
}
