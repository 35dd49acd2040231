package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Debug bool
	// File switches output to rotated JSON lines at this path.
	File string
	// Quiet raises the console level to warnings.
	Quiet bool
}

func InitLogger(cfg LogConfig) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Quiet {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.File != "" {
		log.Logger = zerolog.New(newRotatingFile(cfg.File)).With().Timestamp().Logger()
		return
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func newRotatingFile(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		Compress:   false,
	}
}

// GetLogger returns a child of the global logger tagged with an op field.
func GetLogger(op string) zerolog.Logger {
	return log.With().Str("op", op).Logger()
}

func SetLogOutput(w io.Writer) {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// RedirectConsole sends console log lines to w until restore is called.
func RedirectConsole(w io.Writer) (restore func()) {
	previous := log.Logger
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	return func() { log.Logger = previous }
}
