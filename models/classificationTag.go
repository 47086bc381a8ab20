package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
	"github.com/shopspring/decimal"
)

// ClassificationTag names an import item class. A positive
// RestrictionPercentage, or a RestrictionKey such as "E1:3", puts tagged
// lines into a restriction category.
type ClassificationTag struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	Name                  string          `gorm:"size:150;not null;uniqueIndex" json:"name"`
	NormClass             string          `gorm:"size:20;index" json:"norm_class"`
	RestrictionKey        string          `gorm:"size:30" json:"restriction_key"`
	RestrictionPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"restriction_percentage"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewClassificationTag struct {
	Name                  string          `json:"name" validate:"required,max=150"`
	NormClass             string          `json:"norm_class" validate:"max=20"`
	RestrictionKey        string          `json:"restriction_key" validate:"max=30"`
	RestrictionPercentage decimal.Decimal `json:"restriction_percentage"`
}

// CreateClassificationTag adds a tag. Nothing is tagged yet, so no recompute
// is enqueued.
func CreateClassificationTag(ctx context.Context, actor Actor, input *NewClassificationTag) (*ClassificationTag, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	tag := ClassificationTag{
		Name:                  input.Name,
		NormClass:             input.NormClass,
		RestrictionKey:        input.RestrictionKey,
		RestrictionPercentage: input.RestrictionPercentage,
		Audit:                 actor.created(),
	}
	if err := config.GetDB().WithContext(ctx).Create(&tag).Error; err != nil {
		return nil, err
	}
	return &tag, nil
}
