// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/photo-forge/internal/cleanup"
	"github.com/yourusername/photo-forge/internal/config"
	"github.com/yourusername/photo-forge/internal/history"
	"github.com/yourusername/photo-forge/internal/jobs"
	"github.com/yourusername/photo-forge/internal/logger"
	"github.com/yourusername/photo-forge/internal/pdfgen"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	if err := cfg.EnsureDirs(); err != nil {
		zapLogger.Fatal("failed to prepare directories", zap.Error(err))
	}

	// 履歴データベースの初期化
	db, err := history.Open(cfg.HistoryDBPath())
	if err != nil {
		zapLogger.Fatal("failed to open history database", zap.Error(err))
	}
	historyStore := history.NewStore(db, zapLogger)

	// 変換パイプラインの初期化
	registry := jobs.NewRegistry()
	assembler, err := pdfgen.NewAssembler()
	if err != nil {
		zapLogger.Fatal("failed to initialize pdf assembler", zap.Error(err))
	}
	manager, err := jobs.NewManager(cfg, registry, assembler, historyStore, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize job manager", zap.Error(err))
	}
	manager.StartWorkers()

	// クリーンアップの初期化と開始
	sweeper := cleanup.NewSweeper(
		cleanup.Config{
			RetentionHours:       cfg.RetentionHours,
			SweepIntervalMinutes: cfg.SweepIntervalMinutes,
			AutoSweep:            cfg.AutoSweep,
		},
		historyStore,
		registry,
		cfg.UploadDir,
		cfg.PDFDir,
		time.Duration(cfg.TaskExpireMinutes)*time.Minute,
		zapLogger,
	)
	sweeper.Start()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-User-Id",
	}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, manager, historyStore, sweeper)

	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		zapLogger.Info("starting api server",
			zap.String("addr", addr),
			zap.String("mode", cfg.GinMode),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	// シグナルを受けたら進行中のリクエストを待ってから停止する
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zapLogger.Error("server shutdown failed", zap.Error(err))
	}
	sweeper.Stop()
	if err := manager.Shutdown(ctx); err != nil {
		zapLogger.Error("manager shutdown failed", zap.Error(err))
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "photo-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, manager *jobs.Manager, store *history.Store, sweeper *cleanup.Sweeper) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	// 生成済みPDFの静的配信
	router.Static("/pdfs", cfg.PDFDir)

	api := router.Group("/api")
	{
		pdf := api.Group("/pdf")
		{
			pdf.POST("/generate", jobs.GenerateHandler(manager))
			pdf.GET("/status/:taskId", jobs.StatusHandler(manager))
			pdf.GET("/download/:taskId", jobs.DownloadHandler(manager))
			pdf.GET("/history", history.ListHandler(store))
			pdf.GET("/history/:taskId", history.DetailHandler(store))
			pdf.DELETE("/history/:taskId", history.DeleteHandler(store))
			pdf.DELETE("/history", history.ClearHandler(store))
		}

		cleanupRoutes := api.Group("/cleanup")
		{
			cleanupRoutes.POST("/manual", cleanup.ManualHandler(sweeper))
			cleanupRoutes.GET("/config", cleanup.ConfigGetHandler(sweeper))
			cleanupRoutes.PUT("/config", cleanup.ConfigUpdateHandler(sweeper))
			cleanupRoutes.GET("/stats", cleanup.StatsHandler(sweeper))
			cleanupRoutes.POST("/start", cleanup.StartHandler(sweeper))
			cleanupRoutes.POST("/stop", cleanup.StopHandler(sweeper))
		}
	}
}
