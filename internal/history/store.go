package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrRecordNotFound は履歴レコードが存在しない場合に返されます。
var ErrRecordNotFound = errors.New("history record not found")

// ErrDuplicateTask は同一タスクIDのレコードを二重登録しようとした場合に返されます。
var ErrDuplicateTask = errors.New("history record already exists for task")

// Open はSQLiteデータベースを開き、スキーマを初期化します。
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return db, nil
}

// Store は履歴レコードの永続CRUDを提供します。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore は Store を作成します。
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Add は履歴レコードを登録します。タスクIDの重複は ErrDuplicateTask になります。
func (s *Store) Add(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.TaskID == "" {
		return fmt.Errorf("taskId is required")
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, record.TaskID)
		}
		return err
	}
	return nil
}

// List は履歴レコードを新しい順に返します。ownerID が空の場合は全所有者が対象です。
// 総件数もあわせて返します。
func (s *Store) List(ctx context.Context, ownerID string, limit, offset int) ([]Record, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&Record{})
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []Record
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Detail はタスクIDに対応するレコードを返します。
func (s *Store) Detail(ctx context.Context, taskID string) (*Record, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// Delete はレコードを削除し、影響行数（0または1）を返します。
func (s *Store) Delete(ctx context.Context, taskID string) (int64, error) {
	result := s.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&Record{})
	return result.RowsAffected, result.Error
}

// DeleteByOwner は所有者のレコードをすべて削除します。ownerID が空の場合は全件が対象です。
func (s *Store) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	query := s.db.WithContext(ctx)
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	} else {
		query = query.Where("1 = 1")
	}
	result := query.Delete(&Record{})
	return result.RowsAffected, result.Error
}

// FindOlderThan は cutoff より前に作成されたレコードの最小射影を返します。
func (s *Store) FindOlderThan(ctx context.Context, cutoff time.Time) ([]ExpiredRecord, error) {
	var expired []ExpiredRecord
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("task_id", "document_path", "owner_id").
		Where("created_at < ?", cutoff).
		Scan(&expired).Error
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// CountAll は全レコード数を返します。
func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&Record{}).Count(&total).Error
	return total, err
}

// Remove はレコードと対応するPDFファイルを1つの論理操作として削除します。
// ファイルを先に消し、存在しないファイルはエラーにしません。
func (s *Store) Remove(ctx context.Context, taskID string) (int64, error) {
	record, err := s.Detail(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}

	s.removeDocumentFile(record.DocumentPath)
	return s.Delete(ctx, taskID)
}

// RemoveByOwner は所有者（空の場合は全員）のレコードと対応するファイルをまとめて削除します。
func (s *Store) RemoveByOwner(ctx context.Context, ownerID string) (int64, error) {
	var targets []ExpiredRecord
	query := s.db.WithContext(ctx).Model(&Record{}).Select("task_id", "document_path", "owner_id")
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	}
	if err := query.Scan(&targets).Error; err != nil {
		return 0, err
	}

	for _, target := range targets {
		s.removeDocumentFile(target.DocumentPath)
	}
	return s.DeleteByOwner(ctx, ownerID)
}

func (s *Store) removeDocumentFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		if s.logger != nil {
			s.logger.Warn("failed to remove document file",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
}
