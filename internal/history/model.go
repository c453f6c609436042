// Package history は完了した変換の履歴をSQLiteへ永続化します。
package history

import "time"

// Record は完了済み変換1件の永続サマリです。
// タスク完了時に一度だけ作成され、明示削除か保持期限切れで破棄されます。
type Record struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	TaskID       string            `gorm:"column:task_id;size:36;uniqueIndex;not null" json:"taskId"`
	OwnerID      string            `gorm:"column:owner_id;size:100;not null;index:idx_pdf_history_owner_id" json:"ownerId"`
	Filename     string            `gorm:"size:255;not null" json:"filename"`
	ImageCount   int               `gorm:"column:image_count;not null" json:"imageCount"`
	FileSize     int64             `gorm:"column:file_size;not null" json:"fileSize"`
	PageCount    int               `gorm:"column:page_count;not null" json:"pageCount"`
	DocumentPath string            `gorm:"column:document_path;size:500;not null" json:"documentPath"`
	DownloadURL  string            `gorm:"column:download_url;size:500;not null" json:"downloadUrl"`
	Status       string            `gorm:"size:20;default:completed" json:"status"`
	ProcessingMs int64             `gorm:"column:processing_ms" json:"processingMs"`
	CreatedAt    time.Time         `gorm:"index:idx_pdf_history_created_at" json:"createdAt"`
	CompletedAt  time.Time         `json:"completedAt"`
	Metadata     map[string]string `gorm:"serializer:json" json:"metadata,omitempty"`
}

// TableName はテーブル名を固定します。
func (Record) TableName() string {
	return "pdf_history"
}

// ExpiredRecord は保持期限切れレコードの最小限の射影です。
// クリーンアップ処理が必要とする列だけを読み込みます。
type ExpiredRecord struct {
	TaskID       string
	DocumentPath string
	OwnerID      string
}
