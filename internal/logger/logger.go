// Package logger はアプリケーション共通の zerolog ロガーを初期化します。
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init はログレベルと出力形式を設定します。format が "console" の場合は人が読みやすい形式で出力します。
func Init(level string, format string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var out io.Writer = os.Stderr
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Get は設定済みのグローバルロガーを返します。
func Get() zerolog.Logger {
	return log.Logger
}

// Component はコンポーネント名を付与した子ロガーを返します。
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
