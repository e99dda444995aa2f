package logger

import (
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// Configure 控制台 + 滚动日志文件，file 为空时只写控制台
func Configure(level zerolog.Level, file string) io.Closer {
	zerolog.TimeFieldFormat = time.DateTime
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}

	var (
		writer zerolog.LevelWriter = zerolog.MultiLevelWriter(console)
		closer io.Closer           = nopCloser{}
	)
	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		writer = zerolog.MultiLevelWriter(console, rotating)
		closer = rotating
	}

	log.Logger = zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger().
		Level(level)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
