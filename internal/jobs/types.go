// Package jobs は変換タスクの登録・進捗管理と生成パイプラインの実行を提供します。
package jobs

import "time"

// Status はタスクの実行状態を表します。
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終了状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnonymousOwner は識別情報のない呼び出し元を表すセンチネル値です。
const AnonymousOwner = "anonymous"

// ImageRef はステージング済み入力画像1枚への参照を表します。
type ImageRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Path     string `json:"-"`
}

// TaskResult はタスク成功時の成果物情報です。
type TaskResult struct {
	DocumentPath string `json:"documentPath"`
	FileSize     int64  `json:"fileSize"`
	PageCount    int    `json:"pageCount"`
}

// Task は1件の変換タスクの現在状態を表します。
// レジストリが所有し、パイプラインだけが状態を書き換えます。
type Task struct {
	ID              string      `json:"taskId"`
	OwnerID         string      `json:"ownerId"`
	Status          Status      `json:"status"`
	Progress        int         `json:"progress"`
	TotalImages     int         `json:"totalImages"`
	ProcessedImages int         `json:"processedImages"`
	CreatedAt       time.Time   `json:"createdAt"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
	Result          *TaskResult `json:"result,omitempty"`
	Error           string      `json:"error,omitempty"`

	// パイプライン完了までのみ保持し、後始末に使う
	ImageRefs []ImageRef `json:"-"`
}
