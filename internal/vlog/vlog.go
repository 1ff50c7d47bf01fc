// Package vlog is the process-wide log level, the one piece of global state
// the design notes call out: an atomic integer set once at startup and read
// by every log call site.
package vlog

import (
	"log"
	"sync/atomic"
)

// Level mirrors VaFsLogLevel from the original C API.
type Level int32

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

var level int32 = int32(LevelError)

// Initialize sets the process-wide log level. Call it once, before any
// other package logs.
func Initialize(l Level) {
	atomic.StoreInt32(&level, int32(l))
}

// FromVerbosity maps a -v/-vv flag count to a Level (0 => Error, 1 => Info,
// 2+ => Debug).
func FromVerbosity(count int) Level {
	switch {
	case count <= 0:
		return LevelError
	case count == 1:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func current() Level {
	return Level(atomic.LoadInt32(&level))
}

func Errorf(format string, args ...interface{}) {
	log.Printf("ERROR: "+format, args...)
}

func Warnf(format string, args ...interface{}) {
	if current() >= LevelWarning {
		log.Printf("WARN: "+format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if current() >= LevelInfo {
		log.Printf("INFO: "+format, args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if current() >= LevelDebug {
		log.Printf("DEBUG: "+format, args...)
	}
}
