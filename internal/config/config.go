// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)
	BaseURL string // ダウンロードURL生成用のベースURL（空の場合は相対パス）

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ディレクトリ設定
	UploadDir string // アップロード画像のステージング先
	PDFDir    string // 生成済みPDFの保存先
	DataDir   string // SQLiteデータベースの保存先

	// 変換パイプライン設定
	QueueRedisURL     string // Asynq用Redis接続URL（空の場合はゴルーチンで実行）
	AllowPartial      bool   // 一部の画像が欠損していても残りでPDFを生成するか
	TaskExpireMinutes int    // 終了済みタスクをレジストリから退避するまでの時間（分）

	// 保持期間/クリーンアップ設定
	RetentionHours       int  // 履歴レコードと成果物の保持時間（時間）
	SweepIntervalMinutes int  // 自動クリーンアップの実行間隔（分）
	AutoSweep            bool // 自動クリーンアップを有効にするか

	// ログ設定
	LogLevel string // zapのログレベル (debug, info, warn, error)
	LogPath  string // ログファイルのパス（空の場合は標準出力のみ）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),
		BaseURL: getEnv("BASE_URL", ""),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ディレクトリ設定
		UploadDir: getEnv("UPLOAD_DIR", "uploads"),
		PDFDir:    getEnv("PDF_DIR", "pdfs"),
		DataDir:   getEnv("DATA_DIR", "data"),

		// 変換パイプライン設定
		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", ""),
		AllowPartial:      getEnvAsBool("PDF_ALLOW_PARTIAL", true),
		TaskExpireMinutes: getEnvAsInt("TASK_EXPIRE_MINUTES", 30),

		// 保持期間/クリーンアップ設定
		RetentionHours:       getEnvAsInt("RETENTION_HOURS", 24),
		SweepIntervalMinutes: getEnvAsInt("SWEEP_INTERVAL_MINUTES", 60),
		AutoSweep:            getEnvAsBool("AUTO_SWEEP", true),

		// ログ設定
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
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
	if c.RetentionHours < 1 || c.RetentionHours > 168 {
		return fmt.Errorf("RETENTION_HOURS must be between 1 and 168 (got %d)", c.RetentionHours)
	}
	if c.SweepIntervalMinutes < 10 || c.SweepIntervalMinutes > 1440 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be between 10 and 1440 (got %d)", c.SweepIntervalMinutes)
	}
	if c.TaskExpireMinutes <= 0 {
		return fmt.Errorf("TASK_EXPIRE_MINUTES must be positive (got %d)", c.TaskExpireMinutes)
	}
	return nil
}

// HistoryDBPath は履歴データベースのファイルパスを返します。
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "pdf_history.db")
}

// EnsureDirs は設定されたディレクトリを作成します。
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.UploadDir, c.PDFDir, c.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
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

// getEnvAsBool は環境変数を真偽値として取得します。
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
