package implementation

import (
	"context"
	"errors"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/model"
	"ai-research-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const subscriptionStatusActive = "active"

type SubscriptionRepositoryImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) contract.SubscriptionRepository {
	return &SubscriptionRepositoryImpl{db: db}
}

func (r *SubscriptionRepositoryImpl) FindActiveContext(ctx context.Context, userId uuid.UUID) (entity.SubscriptionContext, bool, error) {
	var sub model.UserSubscription
	err := r.db.WithContext(ctx).
		Preload("Plan.Features", "is_active = ?", true).
		Where("user_id = ? AND status = ? AND current_period_end > ?", userId, subscriptionStatusActive, time.Now()).
		Order("current_period_end DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entity.SubscriptionContext{}, false, nil
	}
	if err != nil {
		return entity.SubscriptionContext{}, false, err
	}
	if sub.Plan == nil || !sub.Plan.IsActive {
		return entity.SubscriptionContext{}, false, nil
	}

	keys := make([]string, 0, len(sub.Plan.Features))
	for _, f := range sub.Plan.Features {
		keys = append(keys, f.Key)
	}
	return entity.NewSubscriptionContext(entity.SubscriptionTier(sub.Plan.Slug), keys...), true, nil
}
