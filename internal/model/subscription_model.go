package model

import (
	"time"

	"github.com/google/uuid"
)

// Read-only views of the billing service's tables. Only the columns the
// research core consults are mapped.

type SubscriptionPlan struct {
	Id       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Slug     string    `gorm:"type:varchar(255)"`
	IsActive bool
	Features []*Feature `gorm:"many2many:subscription_plan_features;joinForeignKey:plan_id;joinReferences:feature_id"`
}

func (SubscriptionPlan) TableName() string {
	return "subscription_plans"
}

type Feature struct {
	Id       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key      string    `gorm:"type:varchar(100)"`
	IsActive bool
}

func (Feature) TableName() string {
	return "features"
}

type UserSubscription struct {
	Id               uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId           uuid.UUID `gorm:"type:uuid;index"`
	PlanId           uuid.UUID `gorm:"type:uuid"`
	Status           string    `gorm:"type:varchar(50)"`
	CurrentPeriodEnd time.Time
	Plan             *SubscriptionPlan `gorm:"foreignKey:PlanId"`
}

func (UserSubscription) TableName() string {
	return "user_subscriptions"
}
