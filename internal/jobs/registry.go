package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTaskNotFound は未知のタスクIDを指定した場合に返されます。
var ErrTaskNotFound = errors.New("task not found")

// Registry はタスク状態を保持するプロセス内レジストリです。
// 複数のパイプラインから並行に更新されるため、全操作をミューテックスで直列化します。
// 状態遷移は processing → completed/failed の一方向のみ許可します。
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry は Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Create は新しいタスクを登録します。IDが重複している場合はエラーを返します。
func (r *Registry) Create(task *Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.ID]; exists {
		return fmt.Errorf("task already exists: %s", task.ID)
	}
	r.tasks[task.ID] = task
	return nil
}

// Get はタスクのスナップショットを返します。
func (r *Registry) Get(taskID string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// Len は登録中のタスク数を返します。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Remove はタスクをレジストリから取り除きます。
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
}

// UpdateProgress は処理中タスクの進捗を更新します。
// 進捗は単調非減少を保証し、終了済みタスクへの更新は無視します。
func (r *Registry) UpdateProgress(taskID string, processed, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return
	}
	if processed > task.ProcessedImages && processed <= task.TotalImages {
		task.ProcessedImages = processed
	}
	// 進捗100は完了時のみ。処理中は99を上限にする。
	if progress > task.Progress {
		if progress > 99 {
			progress = 99
		}
		task.Progress = progress
	}
}

// MarkDone はタスクを完了状態にします。進捗は100に固定されます。
func (r *Registry) MarkDone(taskID string, result *TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	task.Status = StatusCompleted
	task.Progress = 100
	task.CompletedAt = &now
	task.Result = result
	task.Error = ""
	task.ImageRefs = nil
	return nil
}

// MarkFailed はタスクを失敗状態にします。進捗は最後の値のまま保持します。
func (r *Registry) MarkFailed(taskID string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	task.Status = StatusFailed
	task.CompletedAt = &now
	task.Error = message
	task.Result = nil
	task.ImageRefs = nil
	return nil
}

// EvictTerminalBefore は cutoff より前に終了したタスクを退避し、件数を返します。
// メモリ使用量を抑えるためにクリーンアップ周期で呼び出されます。
func (r *Registry) EvictTerminalBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, task := range r.tasks {
		if task.Status.Terminal() && task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			evicted++
		}
	}
	return evicted
}

func cloneTask(task *Task) *Task {
	copied := *task
	if task.CompletedAt != nil {
		t := *task.CompletedAt
		copied.CompletedAt = &t
	}
	if task.Result != nil {
		res := *task.Result
		copied.Result = &res
	}
	if task.ImageRefs != nil {
		copied.ImageRefs = append([]ImageRef(nil), task.ImageRefs...)
	}
	return &copied
}
