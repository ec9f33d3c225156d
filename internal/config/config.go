// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// オペレーター認証
	AuthEnabled     bool   // API をセッション認証で保護するか
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// レコード/キュー設定
	RedisURL         string // レコードストアとAsynqで共用するRedis接続URL
	RunExpireMinutes int    // 非同期解析ランの保持期間（分）

	// 動画ファイル
	UploadDir     string // 動画ファイルの保存先
	MaxUploadSize int64  // 単一動画の最大サイズ（バイト）

	// 解析ワーカー
	AnalyzerPath   string   // ワーカー実行ファイル
	AnalyzerScript string   // 実行ファイルに最初に渡すスクリプト（空なら省略）
	AnalyzerModel  string   // --model に渡すモデル（空なら省略）
	AnalyzerEnv    []string // ワーカーに追加で渡す環境変数 (KEY=VALUE)

	AnalysisInterval       int           // --interval（Nフレームごとに解析）
	AnalysisConfidence     float64       // --conf（信頼度しきい値）
	AnalysisTimeout        time.Duration // ワーカーの実行時間上限
	AnalysisMaxOutputBytes int64         // stdout+stderr の取得上限
	AnalysisMaxConcurrency int           // 同時に起動できるワーカー数
	AnalysisQueueWait      time.Duration // 空き枠を待つ最大時間

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // console または json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		AuthEnabled:     getEnvAsBool("AUTH_ENABLED", false),
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		Port:    getEnv("PORT", "5000"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		RedisURL:         getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		RunExpireMinutes: getEnvAsInt("RUN_EXPIRE_MINUTES", 60),

		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 500*1024*1024), // 500MB

		AnalyzerPath:   getEnv("ANALYZER_PATH", "python"),
		AnalyzerScript: getEnv("ANALYZER_SCRIPT", "analyze_video.py"),
		AnalyzerModel:  getEnv("ANALYZER_MODEL", ""),
		AnalyzerEnv:    splitList(getEnv("ANALYZER_ENV", "")),

		AnalysisInterval:       getEnvAsInt("ANALYSIS_INTERVAL", 30),
		AnalysisConfidence:     getEnvAsFloat("ANALYSIS_CONFIDENCE", 0.45),
		AnalysisTimeout:        getEnvAsDuration("ANALYSIS_TIMEOUT", 300*time.Second),
		AnalysisMaxOutputBytes: getEnvAsInt64("ANALYSIS_MAX_OUTPUT_BYTES", 50*1024*1024), // 50MB
		AnalysisMaxConcurrency: getEnvAsInt("ANALYSIS_MAX_CONCURRENCY", 2),
		AnalysisQueueWait:      getEnvAsDuration("ANALYSIS_QUEUE_WAIT", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.AnalyzerPath == "" {
		return fmt.Errorf("ANALYZER_PATH is required")
	}
	if c.AnalysisInterval <= 0 {
		return fmt.Errorf("ANALYSIS_INTERVAL must be positive (got %d)", c.AnalysisInterval)
	}
	if c.AnalysisConfidence < 0 || c.AnalysisConfidence > 1 {
		return fmt.Errorf("ANALYSIS_CONFIDENCE must be within [0, 1] (got %v)", c.AnalysisConfidence)
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT must be positive")
	}
	if c.AnalysisMaxOutputBytes <= 0 {
		return fmt.Errorf("ANALYSIS_MAX_OUTPUT_BYTES must be positive")
	}
	if c.AnalysisMaxConcurrency <= 0 {
		return fmt.Errorf("ANALYSIS_MAX_CONCURRENCY must be positive")
	}

	// 認証設定はリリースモードか AUTH_ENABLED のときのみ必須
	if c.GinMode == "release" || c.AuthEnabled {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required when authentication is enabled")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required when authentication is enabled")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required when authentication is enabled")
		}
	}
	if c.GinMode == "release" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required in release mode")
	}

	return nil
}

// RunTTL は非同期解析ランの保持期間を返します。
func (c *Config) RunTTL() time.Duration {
	minutes := c.RunExpireMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "300s" などの time.ParseDuration 形式に加え、秒数の整数も受け付けます。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
