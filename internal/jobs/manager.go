package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/photo-forge/internal/config"
	"github.com/yourusername/photo-forge/internal/history"
	"github.com/yourusername/photo-forge/internal/pdfgen"
)

const taskTypeGenerate = "pdf:generate"

// 進捗のウォーターマーク。検証 5% → 画像埋め込み 10〜85% → 書き出し確認 92% → 完了 100%。
const (
	progressLoad      = 5
	progressEmbedLow  = 10
	progressEmbedHigh = 85
	progressWrite     = 92
)

// ErrEmptyImageList は画像リストが空の投入に対して返されます。
var ErrEmptyImageList = errors.New("image list is empty")

// ImageRequest は投入リクエスト中の画像1枚の指定です。
type ImageRequest struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

type generatePayload struct {
	TaskID string `json:"taskId"`
}

// Manager はタスクの投入とパイプラインの実行を担います。
// Redisが設定されている場合は Asynq ワーカーで、未設定の場合はタスクごとの
// ゴルーチンでパイプラインを実行します。どちらの経路も必ず終了状態を書き込みます。
type Manager struct {
	cfg       *config.Config
	registry  *Registry
	assembler *pdfgen.Assembler
	history   *history.Store
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, registry *Registry, assembler *pdfgen.Assembler, store *history.Store, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if assembler == nil {
		return nil, errors.New("assembler is nil")
	}
	if store == nil {
		return nil, errors.New("history store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &Manager{
		cfg:       cfg,
		registry:  registry,
		assembler: assembler,
		history:   store,
		logger:    logger,
	}

	if cfg.QueueRedisURL != "" {
		if err := pingRedis(cfg.QueueRedisURL); err != nil {
			return nil, fmt.Errorf("redis is not reachable: %w", err)
		}
		opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		manager.client = asynq.NewClient(opt)
		manager.server = asynq.NewServer(
			opt,
			asynq.Config{
				Concurrency: 4,
				Queues: map[string]int{
					"pdf": 1,
				},
			},
		)
		manager.mux = asynq.NewServeMux()
		manager.mux.HandleFunc(taskTypeGenerate, manager.handleGenerateTask)
	}

	return manager, nil
}

// pingRedis はキュー用Redisへの疎通を起動時に確認します。
func pingRedis(redisURL string) error {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return err
	}
	client := redis.NewClient(opt)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
// ゴルーチン実行モードでは何もしません。
func (m *Manager) StartWorkers() {
	if m.server == nil {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Error("asynq server stopped with error", zap.Error(err))
		}
	}()
}

// Shutdown はワーカーとクライアントを停止します。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Submit は画像リストを検証してタスクを作成し、パイプラインを非同期に開始します。
// 空のリストは ErrEmptyImageList で同期的に拒否され、タスクは作成されません。
func (m *Manager) Submit(ctx context.Context, ownerID string, images []ImageRequest) (string, error) {
	if len(images) == 0 {
		return "", ErrEmptyImageList
	}
	if ownerID == "" {
		ownerID = AnonymousOwner
	}

	taskID := uuid.New().String()
	refs := make([]ImageRef, len(images))
	for i, img := range images {
		refs[i] = m.resolveImageRef(img)
	}

	task := &Task{
		ID:          taskID,
		OwnerID:     ownerID,
		Status:      StatusProcessing,
		Progress:    0,
		TotalImages: len(images),
		CreatedAt:   time.Now().UTC(),
		ImageRefs:   refs,
	}
	if err := m.registry.Create(task); err != nil {
		return "", err
	}

	if m.client != nil {
		body, err := json.Marshal(&generatePayload{TaskID: taskID})
		if err != nil {
			m.registry.Remove(taskID)
			return "", err
		}
		// リトライは行わない。再実行は履歴の一意性と入力画像の削除に反する。
		asynqTask := asynq.NewTask(taskTypeGenerate, body, asynq.Queue("pdf"))
		if _, err := m.client.EnqueueContext(ctx, asynqTask, asynq.MaxRetry(0)); err != nil {
			m.registry.Remove(taskID)
			return "", err
		}
	} else {
		go m.process(context.Background(), taskID)
	}

	return taskID, nil
}

// GetTask はタスクのスナップショットを返します。
func (m *Manager) GetTask(taskID string) (*Task, error) {
	return m.registry.Get(taskID)
}

// DownloadURL は完了済みタスクの成果物取得用URLを返します。
func (m *Manager) DownloadURL(taskID string) string {
	if m.cfg.BaseURL == "" {
		return fmt.Sprintf("/pdfs/%s.pdf", taskID)
	}
	return fmt.Sprintf("%s/pdfs/%s.pdf", strings.TrimRight(m.cfg.BaseURL, "/"), taskID)
}

// DocumentFilename はダウンロード時のファイル名を返します。
func DocumentFilename(taskID string) string {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("document_%s.pdf", short)
}

func (m *Manager) handleGenerateTask(ctx context.Context, t *asynq.Task) error {
	var payload generatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	if payload.TaskID == "" {
		return fmt.Errorf("missing taskId in payload")
	}
	// タスクレベルの失敗はレジストリに記録済みなのでエラーを返さない
	m.process(ctx, payload.TaskID)
	return nil
}

// process は1タスク分のパイプラインを実行します。
// 成功・部分成功・失敗のどの経路でも必ず終了状態を書き込みます。
func (m *Manager) process(ctx context.Context, taskID string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("pipeline panicked",
				zap.String("taskId", taskID),
				zap.Any("panic", r),
			)
			_ = m.registry.MarkFailed(taskID, "PDF生成中に内部エラーが発生しました。")
		}
	}()

	task, err := m.registry.Get(taskID)
	if err != nil {
		m.logger.Error("task disappeared before processing", zap.String("taskId", taskID))
		return
	}

	log := m.logger.With(
		zap.String("taskId", taskID),
		zap.String("ownerId", task.OwnerID),
		zap.Int("totalImages", task.TotalImages),
	)
	log.Info("starting pdf generation")

	m.registry.UpdateProgress(taskID, 0, progressLoad)

	inputs := make([]pdfgen.ImageInput, len(task.ImageRefs))
	for i, ref := range task.ImageRefs {
		inputs[i] = pdfgen.ImageInput{ID: ref.ID, Path: ref.Path}
	}

	outPath := filepath.Join(m.cfg.PDFDir, taskID+".pdf")
	result, err := m.assembler.Assemble(ctx, inputs, outPath, func(processed, total int) {
		progress := progressEmbedLow + (progressEmbedHigh-progressEmbedLow)*processed/total
		m.registry.UpdateProgress(taskID, processed, progress)
	})
	if err != nil {
		m.failTask(taskID, err, log)
		return
	}

	if !m.cfg.AllowPartial && result.Embedded < len(inputs) {
		_ = os.Remove(outPath)
		m.failTask(taskID, fmt.Errorf(
			"%d枚の画像のうち%d枚しか変換できませんでした。", len(inputs), result.Embedded), log)
		return
	}

	m.registry.UpdateProgress(taskID, task.TotalImages, progressWrite)

	completedAt := time.Now().UTC()
	record := &history.Record{
		TaskID:       taskID,
		OwnerID:      task.OwnerID,
		Filename:     DocumentFilename(taskID),
		ImageCount:   task.TotalImages,
		FileSize:     result.OutputSize,
		PageCount:    result.PageCount,
		DocumentPath: outPath,
		DownloadURL:  m.DownloadURL(taskID),
		Status:       string(StatusCompleted),
		ProcessingMs: completedAt.Sub(task.CreatedAt).Milliseconds(),
		CreatedAt:    task.CreatedAt,
		CompletedAt:  completedAt,
		Metadata: map[string]string{
			"version": "1.0",
		},
	}
	if err := m.history.Add(ctx, record); err != nil {
		// 履歴の書き込み失敗は成果物を巻き戻さない。PDF自体はタスク状態経由で取得できる。
		log.Error("failed to write history record", zap.Error(err))
	}

	m.removeSourceImages(task.ImageRefs, log)

	if err := m.registry.MarkDone(taskID, &TaskResult{
		DocumentPath: outPath,
		FileSize:     result.OutputSize,
		PageCount:    result.PageCount,
	}); err != nil {
		log.Error("failed to mark task done", zap.Error(err))
		return
	}

	log.Info("pdf generation completed",
		zap.Int("pageCount", result.PageCount),
		zap.Int64("fileSize", result.OutputSize),
		zap.Int("skippedImages", task.TotalImages-result.Embedded),
	)
}

func (m *Manager) failTask(taskID string, err error, log *zap.Logger) {
	message := "PDF生成に失敗しました。"
	var genErr *pdfgen.Error
	if errors.As(err, &genErr) {
		message = genErr.Message
	} else if err != nil {
		message = err.Error()
	}
	// 失敗時は入力画像を残す。診断に使えるよう孤児ファイル掃除に委ねる。
	_ = m.registry.MarkFailed(taskID, message)
	log.Error("pdf generation failed", zap.Error(err))
}

// resolveImageRef は画像指定をステージング領域内のパスへ解決します。
// 呼び出し元が与えたパスは一切信用せず、ファイル名成分とIDのみ使用します。
func (m *Manager) resolveImageRef(img ImageRequest) ImageRef {
	ref := ImageRef{ID: img.ID, Filename: filepath.Base(img.Filename)}
	if ref.Filename == "." || ref.Filename == string(filepath.Separator) {
		ref.Filename = ""
	}

	if ref.Filename == "" && img.ID != "" {
		// ファイル名が無い場合はID接頭辞で探す
		entries, err := os.ReadDir(m.cfg.UploadDir)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasPrefix(entry.Name(), img.ID) {
					ref.Filename = entry.Name()
					break
				}
			}
		}
	}

	if ref.Filename != "" {
		ref.Path = filepath.Join(m.cfg.UploadDir, ref.Filename)
	}
	return ref
}

func (m *Manager) removeSourceImages(refs []ImageRef, log *zap.Logger) {
	deleted := 0
	for _, ref := range refs {
		if ref.Path == "" {
			continue
		}
		if err := os.Remove(ref.Path); err != nil {
			if !os.IsNotExist(err) {
				log.Warn("failed to remove source image",
					zap.String("path", ref.Path),
					zap.Error(err),
				)
			}
			continue
		}
		deleted++
	}
	log.Info("source images cleaned up", zap.Int("deleted", deleted))
}
