package history

import (
	"context"
	"encoding/json"
	"fmt"

	"magic-studio-go/src/core/utils"
	"magic-studio-go/src/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultRecentLimit = 20

// Recorder 编辑历史记录器，db 为空时所有操作都是空操作
type Recorder struct {
	db     *gorm.DB
	logger *utils.Logger
}

// NewRecorder 创建记录器并迁移表结构
func NewRecorder(db *gorm.DB, logger *utils.Logger) (*Recorder, error) {
	r := &Recorder{db: db, logger: logger}
	if db == nil {
		return r, nil
	}
	if err := db.AutoMigrate(&models.EditRecord{}); err != nil {
		return nil, fmt.Errorf("迁移编辑历史表失败: %w", err)
	}
	return r, nil
}

// Enabled 是否配置了数据库
func (r *Recorder) Enabled() bool {
	return r != nil && r.db != nil
}

// Record 保存一条记录，失败只记日志不影响编辑流程
func (r *Recorder) Record(ctx context.Context, record *models.EditRecord, meta map[string]interface{}) {
	if !r.Enabled() {
		return
	}
	if len(meta) > 0 {
		if data, err := json.Marshal(meta); err == nil {
			record.Meta = datatypes.JSON(data)
		}
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		r.logger.Warn("保存编辑历史失败", err)
	}
}

// Recent 按时间倒序返回会话最近的记录
func (r *Recorder) Recent(ctx context.Context, sessionID string, limit int) ([]models.EditRecord, error) {
	if !r.Enabled() {
		return []models.EditRecord{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = defaultRecentLimit
	}
	var records []models.EditRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询编辑历史失败: %w", err)
	}
	return records, nil
}
