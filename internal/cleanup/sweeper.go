// Package cleanup は保持期限切れの成果物と孤児ファイルの定期削除を提供します。
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/photo-forge/internal/history"
	"github.com/yourusername/photo-forge/internal/jobs"
)

// 設定値の許容範囲
const (
	minRetentionHours    = 1
	maxRetentionHours    = 168
	minSweepIntervalMins = 10
	maxSweepIntervalMins = 1440
)

// Config はクリーンアップの実行時設定です。
type Config struct {
	RetentionHours       int  `json:"retentionHours"`
	SweepIntervalMinutes int  `json:"sweepIntervalMinutes"`
	AutoSweep            bool `json:"autoSweep"`
}

// Validate は設定値が許容範囲内かを検証します。
func (c Config) Validate() error {
	if c.RetentionHours < minRetentionHours || c.RetentionHours > maxRetentionHours {
		return fmt.Errorf("retentionHours must be between %d and %d", minRetentionHours, maxRetentionHours)
	}
	if c.SweepIntervalMinutes < minSweepIntervalMins || c.SweepIntervalMinutes > maxSweepIntervalMins {
		return fmt.Errorf("sweepIntervalMinutes must be between %d and %d", minSweepIntervalMins, maxSweepIntervalMins)
	}
	return nil
}

// SweepResult は1回の掃除で削除した件数です。
type SweepResult struct {
	DeletedFiles   int `json:"deletedFiles"`
	DeletedRecords int `json:"deletedRecords"`
	OrphanFiles    int `json:"orphanFiles"`
	EvictedTasks   int `json:"evictedTasks"`
}

// Stats はクリーンアップ対象領域の現況です。
type Stats struct {
	TotalRecords   int64  `json:"totalRecords"`
	ExpiredRecords int    `json:"expiredRecords"`
	UploadDirSize  string `json:"uploadDirSize"`
	PDFDirSize     string `json:"pdfDirSize"`
	RetentionHours int    `json:"retentionHours"`
	IsRunning      bool   `json:"isRunning"`
}

// Sweeper は保持期限を過ぎた履歴・成果物・孤児ファイルを周期的に削除します。
// 1つのゴルーチンだけがループを動かし、設定変更時はループを再武装します。
type Sweeper struct {
	mu        sync.Mutex
	cfg       Config
	store     *history.Store
	registry  *jobs.Registry
	uploadDir string
	pdfDir    string
	taskTTL   time.Duration
	logger    *zap.Logger
	stopCh    chan struct{}
	running   bool
}

// NewSweeper は Sweeper を作成します。開始は Start の呼び出しで行います。
func NewSweeper(cfg Config, store *history.Store, registry *jobs.Registry, uploadDir, pdfDir string, taskTTL time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		uploadDir: uploadDir,
		pdfDir:    pdfDir,
		taskTTL:   taskTTL,
		logger:    logger,
	}
}

// Start は即時に1回掃除を行い、自動掃除が有効なら周期ループを開始します。
// 既に動作中の場合は何もしません。
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	interval := time.Duration(s.cfg.SweepIntervalMinutes) * time.Minute
	auto := s.cfg.AutoSweep
	s.mu.Unlock()

	if _, err := s.Sweep(context.Background()); err != nil {
		s.logger.Error("initial sweep failed", zap.Error(err))
	}

	if !auto {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(context.Background()); err != nil {
					s.logger.Error("scheduled sweep failed", zap.Error(err))
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop は周期ループを停止します。
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.stopCh = nil
}

// Running は周期ループの動作状態を返します。
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Config は現在の設定のコピーを返します。
func (s *Sweeper) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig は設定を検証のうえ差し替えます。
// ループ動作中であれば新しい間隔で再武装します。
func (s *Sweeper) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	wasRunning := s.running
	s.mu.Unlock()

	if wasRunning {
		s.Stop()
		s.Start()
	}

	s.logger.Info("cleanup config updated",
		zap.Int("retentionHours", cfg.RetentionHours),
		zap.Int("sweepIntervalMinutes", cfg.SweepIntervalMinutes),
		zap.Bool("autoSweep", cfg.AutoSweep),
	)
	return nil
}

// Sweep は現時刻から保持期間をさかのぼった時点を基準に掃除を実行します。
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	retention := time.Duration(s.cfg.RetentionHours) * time.Hour
	s.mu.Unlock()
	return s.SweepBefore(ctx, time.Now().UTC().Add(-retention))
}

// SweepBefore は cutoff より前に作成された履歴・成果物と、
// cutoff より古い孤児アップロードを削除します。
// 1件の失敗で全体を止めず、消せるものは消してから件数を返します。
func (s *Sweeper) SweepBefore(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	started := time.Now()
	var result SweepResult

	expired, err := s.store.FindOlderThan(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to find expired records: %w", err)
	}

	for _, record := range expired {
		if record.DocumentPath != "" {
			if err := os.Remove(record.DocumentPath); err != nil {
				if !os.IsNotExist(err) {
					s.logger.Warn("failed to remove expired document",
						zap.String("taskId", record.TaskID),
						zap.String("path", record.DocumentPath),
						zap.Error(err),
					)
				}
			} else {
				result.DeletedFiles++
			}
		}
		deleted, err := s.store.Delete(ctx, record.TaskID)
		if err != nil {
			s.logger.Warn("failed to delete expired record",
				zap.String("taskId", record.TaskID),
				zap.Error(err),
			)
			continue
		}
		result.DeletedRecords += int(deleted)
	}

	result.OrphanFiles = s.sweepOrphans(cutoff)

	if s.registry != nil {
		result.EvictedTasks = s.registry.EvictTerminalBefore(time.Now().UTC().Add(-s.taskTTL))
	}

	s.logger.Info("sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int("deletedFiles", result.DeletedFiles),
		zap.Int("deletedRecords", result.DeletedRecords),
		zap.Int("orphanFiles", result.OrphanFiles),
		zap.Int("evictedTasks", result.EvictedTasks),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// sweepOrphans はアップロード領域に残った古いファイルを削除します。
// 作成時刻はポータブルに取得できないため更新時刻で判定します。
func (s *Sweeper) sweepOrphans(cutoff time.Time) int {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to scan upload dir", zap.Error(err))
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.uploadDir, entry.Name())
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("failed to remove orphan file",
					zap.String("path", path),
					zap.Error(err),
				)
			}
			continue
		}
		removed++
	}
	return removed
}

// CollectStats は履歴件数・期限切れ件数・各領域のサイズをまとめて返します。
func (s *Sweeper) CollectStats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	retention := s.cfg.RetentionHours
	s.mu.Unlock()

	total, err := s.store.CountAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	expired, err := s.store.FindOlderThan(ctx, time.Now().UTC().Add(-time.Duration(retention)*time.Hour))
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TotalRecords:   total,
		ExpiredRecords: len(expired),
		UploadDirSize:  formatFileSize(dirSize(s.uploadDir)),
		PDFDirSize:     formatFileSize(dirSize(s.pdfDir)),
		RetentionHours: retention,
		IsRunning:      s.Running(),
	}, nil
}

func dirSize(dir string) int64 {
	var size int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if info, err := entry.Info(); err == nil {
			size += info.Size()
		}
	}
	return size
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(size)/float64(div), "KMGT"[exp])
}
