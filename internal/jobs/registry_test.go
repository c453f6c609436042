package jobs

import (
	"errors"
	"testing"
	"time"
)

func newProcessingTask(id string, total int) *Task {
	return &Task{
		ID:          id,
		OwnerID:     AnonymousOwner,
		Status:      StatusProcessing,
		TotalImages: total,
		CreatedAt:   time.Now().UTC(),
		ImageRefs:   []ImageRef{{ID: "img-1", Filename: "a.jpg", Path: "/tmp/a.jpg"}},
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Create(newProcessingTask("task-1", 2)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	task, err := registry.Get("task-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if task.Status != StatusProcessing || task.TotalImages != 2 {
		t.Fatalf("unexpected task: %#v", task)
	}

	if err := registry.Create(newProcessingTask("task-1", 2)); err == nil {
		t.Fatal("expected error for duplicate task id")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Get("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistryGetReturnsSnapshot(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Create(newProcessingTask("task-1", 2)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	snapshot, _ := registry.Get("task-1")
	snapshot.Progress = 99
	snapshot.ImageRefs[0].Path = "tampered"

	current, _ := registry.Get("task-1")
	if current.Progress != 0 {
		t.Fatalf("snapshot mutation leaked into registry: %#v", current)
	}
	if current.ImageRefs[0].Path != "/tmp/a.jpg" {
		t.Fatalf("image refs are shared with snapshot: %#v", current.ImageRefs)
	}
}

func TestRegistryProgressIsMonotonic(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Create(newProcessingTask("task-1", 5)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	registry.UpdateProgress("task-1", 2, 40)
	registry.UpdateProgress("task-1", 1, 20) // 巻き戻しは無視される
	registry.UpdateProgress("task-1", 9, 200)

	task, _ := registry.Get("task-1")
	// 処理中のタスクが100%を報告することはない
	if task.Progress != 99 {
		t.Fatalf("Progress = %d, want clamped to 99", task.Progress)
	}
	if task.Status != StatusProcessing {
		t.Fatalf("Status = %s, want processing", task.Status)
	}
	if task.ProcessedImages != 2 {
		t.Fatalf("ProcessedImages = %d, want 2", task.ProcessedImages)
	}
}

func TestRegistryMarkDone(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Create(newProcessingTask("task-1", 2)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	result := &TaskResult{DocumentPath: "/tmp/out.pdf", FileSize: 123, PageCount: 2}
	if err := registry.MarkDone("task-1", result); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}

	task, _ := registry.Get("task-1")
	if task.Status != StatusCompleted {
		t.Fatalf("Status = %s, want completed", task.Status)
	}
	if task.Progress != 100 {
		t.Fatalf("Progress = %d, want 100", task.Progress)
	}
	if task.CompletedAt == nil {
		t.Fatal("CompletedAt should be set")
	}
	if task.Result == nil || task.Result.PageCount != 2 {
		t.Fatalf("unexpected result: %#v", task.Result)
	}
	if task.ImageRefs != nil {
		t.Fatalf("ImageRefs should be cleared on completion: %#v", task.ImageRefs)
	}

	// 終了後の更新は無視される
	registry.UpdateProgress("task-1", 2, 50)
	if err := registry.MarkFailed("task-1", "too late"); err != nil {
		t.Fatalf("MarkFailed on terminal task returned error: %v", err)
	}
	task, _ = registry.Get("task-1")
	if task.Status != StatusCompleted || task.Progress != 100 {
		t.Fatalf("terminal state was overwritten: %#v", task)
	}
}

func TestRegistryMarkFailed(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Create(newProcessingTask("task-1", 2)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	registry.UpdateProgress("task-1", 1, 40)

	if err := registry.MarkFailed("task-1", "boom"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	task, _ := registry.Get("task-1")
	if task.Status != StatusFailed {
		t.Fatalf("Status = %s, want failed", task.Status)
	}
	if task.Error != "boom" {
		t.Fatalf("Error = %q, want boom", task.Error)
	}
	if task.Progress != 40 {
		t.Fatalf("Progress = %d, want last value 40", task.Progress)
	}
	if task.Result != nil {
		t.Fatalf("Result should be nil on failure: %#v", task.Result)
	}
}

func TestRegistryEvictTerminalBefore(t *testing.T) {
	registry := NewRegistry()
	for _, id := range []string{"done", "failed", "running"} {
		if err := registry.Create(newProcessingTask(id, 1)); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}
	if err := registry.MarkDone("done", &TaskResult{}); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}
	if err := registry.MarkFailed("failed", "boom"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	evicted := registry.EvictTerminalBefore(time.Now().UTC().Add(time.Minute))
	if evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}
	if registry.Len() != 1 {
		t.Fatalf("Len = %d, want 1", registry.Len())
	}
	if _, err := registry.Get("running"); err != nil {
		t.Fatalf("running task should survive eviction: %v", err)
	}
}
