package models

import (
	"time"

	"gorm.io/datatypes"
)

// 编辑结果
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// EditRecord 一次编辑请求的记录，只保存元数据不保存图片
type EditRecord struct {
	ID             uint   `gorm:"primaryKey"`
	SessionID      string `gorm:"index;size:64;not null"`
	Provider       string `gorm:"size:32"`
	Prompt         string `gorm:"type:text"`
	Outcome        string `gorm:"size:16;index"`
	ErrorKind      string `gorm:"size:32"`
	ErrorMessage   string `gorm:"type:text"`
	InputMediaType string `gorm:"size:64"`
	InputBytes     int
	OutputBytes    int
	DurationMs     int64
	Meta           datatypes.JSON // 额外信息，如图片尺寸
	CreatedAt      time.Time `gorm:"index"`
}
