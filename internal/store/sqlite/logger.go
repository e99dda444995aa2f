package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQuery = 200 * time.Millisecond

// gormLogger routes gorm's statement log into zerolog.
type gormLogger struct {
	level gormlogger.LogLevel
}

func newGormLogger() gormlogger.Interface {
	return &gormLogger{level: gormlogger.Warn}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		log.Info().Str("module", "gorm").Msg(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		log.Warn().Str("module", "gorm").Msg(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		log.Error().Str("module", "gorm").Msg(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	var ev *zerolog.Event
	switch {
	// not found and duplicate keys are answers, not failures
	case err != nil && !isExpected(err) && l.level >= gormlogger.Error:
		ev = log.Error().Err(err)
	case elapsed > slowQuery && l.level >= gormlogger.Warn:
		ev = log.Warn().Str("slow", slowQuery.String())
	case l.level >= gormlogger.Info:
		ev = log.Trace()
	default:
		return
	}
	sql, rows := fc()
	ev.Str("module", "gorm").Dur("elapsed", elapsed).Int64("rows", rows).Msg(sql)
}

func isExpected(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
}
