package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/skillshare/realtime/internal/domain"
)

type MessageRepo struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Insert(ctx context.Context, m domain.ChatMessage) (domain.ChatMessage, error) {
	row := GroupMessage{
		GroupID:          int64(m.GroupID),
		UserID:           string(m.UserID),
		MessageType:      string(m.Type),
		Content:          m.Content,
		FileURL:          m.FileURL,
		FileName:         m.FileName,
		FileSize:         m.FileSize,
		Duration:         m.Duration,
		ReplyToMessageID: m.ReplyToMessageID,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.ChatMessage{}, err
	}
	return row.toDomain(), nil
}

// List returns one page of non-deleted messages, newest first.
func (r *MessageRepo) List(ctx context.Context, group domain.GroupID, page, pageSize int) ([]domain.ChatMessage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	var rows []GroupMessage
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND is_deleted = ?", int64(group), false).
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ChatMessage, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
