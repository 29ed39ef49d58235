package storage

import "github.com/google/uuid"

// NewID 生成列表/任务 ID / Generates a list or task ID
func NewID() string {
	return uuid.NewString()
}
