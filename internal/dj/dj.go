// Package dj plays note block songs: it tunes the note blocks around the
// agent, then triggers them in time with a song while staying under the
// server's packet thresholds.
package dj

import (
	"io"
	"log"
	"os"
)

var logger = log.New(os.Stdout, "[dj] ", log.LstdFlags|log.Lmicroseconds)

// SetLogger replaces the package logger. nil silences it.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	logger = l
}
