package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/skillshare/realtime/internal/domain"
)

// CallRepo implements core.CallStore.
type CallRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCallRepo(db *gorm.DB) *CallRepo {
	return &CallRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *CallRepo) FindActiveCall(ctx context.Context, group domain.GroupID) (*domain.CallRecord, error) {
	var c Call
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND is_active = ?", int64(group), true).
		Order("started_at DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.toDomain(), nil
}

func (r *CallRepo) GetCall(ctx context.Context, id domain.CallID) (*domain.CallRecord, error) {
	var c Call
	err := r.db.WithContext(ctx).Where("call_id = ?", string(id)).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, err
	}
	return c.toDomain(), nil
}

func (r *CallRepo) CreateCall(ctx context.Context, group domain.GroupID, starter domain.UserID) (*domain.CallRecord, error) {
	c := Call{
		CallID:           string(domain.NewCallID()),
		GroupID:          int64(group),
		StartedBy:        string(starter),
		StartedAt:        r.now(),
		IsActive:         true,
		ParticipantCount: 1,
	}
	if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, err
	}
	return c.toDomain(), nil
}

func (r *CallRepo) IncrementParticipantCount(ctx context.Context, id domain.CallID) error {
	res := r.db.WithContext(ctx).Model(&Call{}).
		Where("call_id = ?", string(id)).
		UpdateColumn("participant_count", gorm.Expr("participant_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrCallNotFound
	}
	return nil
}

// DecrementParticipantCount never takes the count below zero.
func (r *CallRepo) DecrementParticipantCount(ctx context.Context, id domain.CallID) error {
	return r.db.WithContext(ctx).Model(&Call{}).
		Where("call_id = ? AND participant_count > 0", string(id)).
		UpdateColumn("participant_count", gorm.Expr("participant_count - ?", 1)).Error
}

// EndCall flips is_active once and force-closes every open interval of the call.
func (r *CallRepo) EndCall(ctx context.Context, id domain.CallID, endedBy domain.UserID) error {
	now := r.now()
	by := string(endedBy)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Call{}).
			Where("call_id = ? AND is_active = ?", string(id), true).
			Updates(map[string]any{
				"is_active":         false,
				"ended_at":          now,
				"ended_by":          by,
				"participant_count": 0,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&CallParticipant{}).
			Where("call_id = ? AND left_at IS NULL", string(id)).
			Update("left_at", now).Error
	})
}

// OpenParticipantInterval is a no-op when the user already has an open interval.
func (r *CallRepo) OpenParticipantInterval(ctx context.Context, id domain.CallID, user domain.UserID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&CallParticipant{}).
			Where("call_id = ? AND user_id = ? AND left_at IS NULL", string(id), string(user)).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return nil
		}
		return tx.Create(&CallParticipant{
			CallID:   string(id),
			UserID:   string(user),
			JoinedAt: r.now(),
		}).Error
	})
}

func (r *CallRepo) CloseParticipantInterval(ctx context.Context, id domain.CallID, user domain.UserID) error {
	return r.db.WithContext(ctx).Model(&CallParticipant{}).
		Where("call_id = ? AND user_id = ? AND left_at IS NULL", string(id), string(user)).
		Update("left_at", r.now()).Error
}

// Participants lists the intervals of a call in join order.
func (r *CallRepo) Participants(ctx context.Context, id domain.CallID) ([]domain.ParticipantRecord, error) {
	var rows []CallParticipant
	if err := r.db.WithContext(ctx).
		Where("call_id = ?", string(id)).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ParticipantRecord, 0, len(rows))
	for _, p := range rows {
		out = append(out, domain.ParticipantRecord{
			CallID:   domain.CallID(p.CallID),
			UserID:   domain.UserID(p.UserID),
			JoinedAt: p.JoinedAt,
			LeftAt:   p.LeftAt,
		})
	}
	return out, nil
}

// GroupStats aggregates the call history of a group. Durations only count
// calls that have ended.
func (r *CallRepo) GroupStats(ctx context.Context, group domain.GroupID) (domain.CallStats, error) {
	stats := domain.CallStats{GroupID: group}

	var calls []Call
	if err := r.db.WithContext(ctx).Where("group_id = ?", int64(group)).Find(&calls).Error; err != nil {
		return stats, err
	}
	stats.TotalCalls = int64(len(calls))
	if len(calls) == 0 {
		return stats, nil
	}

	ids := make([]string, 0, len(calls))
	ended := 0
	for _, c := range calls {
		ids = append(ids, c.CallID)
		if c.EndedAt != nil {
			stats.TotalDuration += c.EndedAt.Sub(c.StartedAt)
			ended++
		}
	}
	if ended > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(ended)
	}

	if err := r.db.WithContext(ctx).Model(&CallParticipant{}).
		Where("call_id IN ?", ids).
		Count(&stats.TotalParticipants).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// UserStats counts the user's join intervals and their closed duration.
func (r *CallRepo) UserStats(ctx context.Context, user domain.UserID) (domain.UserCallStats, error) {
	stats := domain.UserCallStats{UserID: user}

	var rows []CallParticipant
	if err := r.db.WithContext(ctx).Where("user_id = ?", string(user)).Find(&rows).Error; err != nil {
		return stats, err
	}
	stats.TotalCalls = int64(len(rows))
	for _, p := range rows {
		if p.LeftAt != nil {
			stats.TotalCallTime += p.LeftAt.Sub(p.JoinedAt)
		}
	}
	return stats, nil
}
