package jobs

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// asynqLogger は asynq.Logger を zerolog に流します。
type asynqLogger struct {
	log zerolog.Logger
}

var _ asynq.Logger = asynqLogger{}

// NewAsynqLogger は Asynq サーバー用のロガーを返します。
func NewAsynqLogger(log zerolog.Logger) asynq.Logger {
	return asynqLogger{log: log.With().Str("component", "asynq").Logger()}
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
