package contract

import (
	"context"

	"ai-research-be/internal/entity"

	"github.com/google/uuid"
)

type SubscriptionRepository interface {
	// FindActiveContext returns the tier and enabled features of the user's
	// current subscription. found is false when the user has none.
	FindActiveContext(ctx context.Context, userId uuid.UUID) (sub entity.SubscriptionContext, found bool, err error)
}
