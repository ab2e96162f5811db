package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely the service logs.
type Options struct {
	Env        string
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New builds the process logger. Development gets human-readable console
// output; everything else writes JSON lines. When File is set, the same
// JSON stream is also written to a size-rotated file.
func New(opts Options) zerolog.Logger {
	return NewWithOutput(os.Stdout, opts)
}

// NewWithOutput is New with an explicit console writer.
func NewWithOutput(out io.Writer, opts Options) zerolog.Logger {
	console := out
	if opts.Env == "development" {
		console = zerolog.ConsoleWriter{Out: out}
	}

	w := console
	if opts.File != "" {
		w = zerolog.MultiLevelWriter(console, rotatingFile(opts))
	}

	return zerolog.New(w).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().
		Logger()
}

func rotatingFile(opts Options) io.Writer {
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 50
	}
	_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    size, // megabytes
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
