package vafs

import "github.com/Meulengracht/vali-rofs/internal/vafserrors"

// Error-kind sentinels surfaced by the engine, usable with errors.Is
// regardless of which internal package produced the failure (§7).
var (
	ErrInvalidArgument  = vafserrors.ErrInvalidArgument
	ErrNotFound         = vafserrors.ErrNotFound
	ErrAlreadyExists    = vafserrors.ErrAlreadyExists
	ErrPermissionDenied = vafserrors.ErrPermissionDenied
	ErrNotADirectory    = vafserrors.ErrNotADirectory
	ErrIsADirectory     = vafserrors.ErrIsADirectory
	ErrIntegrityError   = vafserrors.ErrIntegrityError
	ErrContention       = vafserrors.ErrContention
	ErrOutOfMemory      = vafserrors.ErrOutOfMemory
	ErrIOError          = vafserrors.ErrIOError
	ErrUnsupported      = vafserrors.ErrUnsupported
	ErrNameTooLong      = vafserrors.ErrNameTooLong
	ErrTooManyLinks     = vafserrors.ErrTooManyLinks
)
