package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/skillshare/realtime/internal/domain"
)

// MemberRepo reads group memberships. Rows are owned by the group CRUD side;
// AddMember exists for seeding.
type MemberRepo struct {
	db *gorm.DB
}

func NewMemberRepo(db *gorm.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

func (r *MemberRepo) IsMember(ctx context.Context, group domain.GroupID, user domain.UserID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&GroupMember{}).
		Where("group_id = ? AND user_id = ?", int64(group), string(user)).
		Count(&n).Error
	return n > 0, err
}

func (r *MemberRepo) Role(ctx context.Context, group domain.GroupID, user domain.UserID) (domain.Role, error) {
	var m GroupMember
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", int64(group), string(user)).
		First(&m).Error
	if err != nil {
		return "", err
	}
	return domain.Role(m.Role), nil
}

func (r *MemberRepo) AddMember(ctx context.Context, group domain.GroupID, user domain.UserID, role domain.Role) error {
	return r.db.WithContext(ctx).Create(&GroupMember{
		GroupID:  int64(group),
		UserID:   string(user),
		Role:     string(role),
		JoinedAt: time.Now().UTC(),
	}).Error
}
