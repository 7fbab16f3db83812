package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/avelens/spotigram/internal/models"
)

// Quotas tracks daily per-user usage of the AI mix generator.
type Quotas struct {
	db *gorm.DB
}

// NewQuotas creates a quota store
func NewQuotas(db *gorm.DB) *Quotas {
	return &Quotas{db: db}
}

// Consume records one mix request for today and reports whether the user was
// still under the limit. The increment is conditional on the current count,
// so concurrent requests cannot overshoot the quota.
func (s *Quotas) Consume(ctx context.Context, userID int64, limit int) (bool, error) {
	now := time.Now().UTC()
	date := now.Format("2006-01-02")

	res := s.db.WithContext(ctx).
		Model(&models.MixQuota{}).
		Where("user_id = ? AND request_date = ? AND request_count < ?", userID, date, limit).
		Updates(map[string]interface{}{
			"request_count": gorm.Expr("request_count + 1"),
			"last_request":  now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("store: incrementing mix quota: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// No row matched: either no quota row exists for today, or the limit
	// is already spent.
	var quota models.MixQuota
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND request_date = ?", userID, date).
		First(&quota).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		quota = models.MixQuota{
			UserID:       userID,
			RequestDate:  date,
			RequestCount: 1,
			LastRequest:  &now,
		}
		err := s.db.WithContext(ctx).Create(&quota).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Concurrent first request created the row; retry the
			// conditional increment once.
			res := s.db.WithContext(ctx).
				Model(&models.MixQuota{}).
				Where("user_id = ? AND request_date = ? AND request_count < ?", userID, date, limit).
				Updates(map[string]interface{}{
					"request_count": gorm.Expr("request_count + 1"),
					"last_request":  now,
				})
			if res.Error != nil {
				return false, fmt.Errorf("store: incrementing mix quota: %w", res.Error)
			}
			return res.RowsAffected == 1, nil
		}
		if err != nil {
			return false, fmt.Errorf("store: creating mix quota row: %w", err)
		}
		return limit >= 1, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: reading mix quota: %w", err)
	}
	return false, nil
}

// Refund gives back one of today's consumed units, used when the paid call
// the unit was reserved for never happened.
func (s *Quotas) Refund(ctx context.Context, userID int64) error {
	date := time.Now().UTC().Format("2006-01-02")
	res := s.db.WithContext(ctx).
		Model(&models.MixQuota{}).
		Where("user_id = ? AND request_date = ? AND request_count > 0", userID, date).
		Update("request_count", gorm.Expr("request_count - 1"))
	if res.Error != nil {
		return fmt.Errorf("store: refunding mix quota: %w", res.Error)
	}
	return nil
}

// DeleteBefore removes quota rows for dates strictly before the given day
// (YYYY-MM-DD). Used by the daily cleanup job.
func (s *Quotas) DeleteBefore(ctx context.Context, date string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("request_date < ?", date).
		Delete(&models.MixQuota{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: cleaning up mix quotas: %w", res.Error)
	}
	return res.RowsAffected, nil
}
