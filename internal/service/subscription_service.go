package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/pkg/events"
	pktNats "ai-research-be/pkg/nats"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const subscriptionModule = "SubscriptionService"

type ISubscriptionService interface {
	// Resolve returns the SubscriptionContext for a connection. The result is
	// read-only for the caller.
	Resolve(ctx context.Context, identity entity.Identity) (entity.SubscriptionContext, error)
	Invalidate(userID string)
}

// EventSubscriber is the part of the NATS subscriber the service needs.
type EventSubscriber interface {
	Subscribe(ctx context.Context, subject, durableName string, handler pktNats.EventHandler) error
}

type subscriptionService struct {
	repo   contract.SubscriptionRepository // nil when no database is configured
	cache  *cache.Cache
	logger logger.ILogger
}

func NewSubscriptionService(repo contract.SubscriptionRepository, ttl time.Duration, log logger.ILogger) *subscriptionService {
	return &subscriptionService{
		repo:   repo,
		cache:  cache.New(ttl, 2*ttl),
		logger: log,
	}
}

func (s *subscriptionService) Resolve(ctx context.Context, identity entity.Identity) (entity.SubscriptionContext, error) {
	if x, ok := s.cache.Get(identity.UserID); ok {
		return x.(entity.SubscriptionContext), nil
	}

	sub, err := s.resolve(ctx, identity)
	if err != nil {
		return entity.SubscriptionContext{}, err
	}
	s.cache.Set(identity.UserID, sub, cache.DefaultExpiration)
	return sub, nil
}

func (s *subscriptionService) resolve(ctx context.Context, identity entity.Identity) (entity.SubscriptionContext, error) {
	if s.repo != nil {
		userID, err := uuid.Parse(identity.UserID)
		if err != nil {
			return entity.SubscriptionContext{}, fmt.Errorf("invalid user id %q: %w", identity.UserID, err)
		}
		sub, found, err := s.repo.FindActiveContext(ctx, userID)
		if err == nil {
			if !found {
				return entity.NewSubscriptionContext(entity.TierFree), nil
			}
			return sub, nil
		}
		s.logger.Warn(subscriptionModule, "Subscription lookup failed, using token claims", map[string]interface{}{
			"user_id": identity.UserID,
			"error":   err.Error(),
		})
	}
	return FromClaims(identity), nil
}

// FromClaims builds a SubscriptionContext from token claims alone.
func FromClaims(identity entity.Identity) entity.SubscriptionContext {
	tier := entity.SubscriptionTier(strings.ToLower(string(identity.Tier)))
	if tier == "" {
		tier = entity.TierFree
	}
	features := identity.Features
	if features == nil {
		features = entity.DefaultFeaturesForTier(tier)
	}
	return entity.NewSubscriptionContext(tier, features...)
}

func (s *subscriptionService) Invalidate(userID string) {
	s.cache.Delete(userID)
}

// Start listens for billing events so plan changes apply to the next
// session start or mode switch without waiting for the cache TTL.
func (s *subscriptionService) Start(ctx context.Context, sub EventSubscriber) error {
	return sub.Subscribe(ctx, pktNats.Subject(">"), "research-subscription-cache", s.handleEvent)
}

func (s *subscriptionService) handleEvent(_ context.Context, event events.Event) error {
	// NATS wildcards match whole tokens only, so the prefix is filtered here
	if !strings.HasPrefix(event.EventType(), "SUBSCRIPTION_") {
		return nil
	}
	userID := events.StringField(event, "user_id")
	if userID == "" {
		return nil
	}
	s.Invalidate(userID)
	s.logger.Info(subscriptionModule, "Subscription cache invalidated", map[string]interface{}{
		"user_id": userID,
		"type":    event.EventType(),
	})
	return nil
}
