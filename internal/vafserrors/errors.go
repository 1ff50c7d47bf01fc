// Package vafserrors defines the error-kind sentinels shared by every layer
// of the image engine, so a caller can classify a failure with errors.Is
// regardless of which package produced it.
package vafserrors

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotADirectory   = errors.New("not a directory")
	ErrIsADirectory    = errors.New("is a directory")
	ErrIntegrityError  = errors.New("integrity error")
	ErrContention      = errors.New("device busy")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrIOError         = errors.New("i/o error")
	ErrUnsupported     = errors.New("unsupported")
	ErrNameTooLong     = errors.New("name too long")
	ErrTooManyLinks    = errors.New("too many levels of symbolic links")
)
