package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ImportLine is a license import item. The Debited*, Allotted*, Available* and
// BalanceCif columns are written only by the recompute worker.
type ImportLine struct {
	ID                int                 `gorm:"primary_key" json:"id"`
	LicenseId         int                 `gorm:"not null;index;uniqueIndex:uniq_license_serial,priority:1" json:"license_id"`
	SerialNumber      int                 `gorm:"not null;uniqueIndex:uniq_license_serial,priority:2" json:"serial_number"`
	Description       string              `gorm:"size:255" json:"description"`
	HsCode            string              `gorm:"size:20;index" json:"hs_code"`
	Unit              string              `gorm:"size:20" json:"unit"`
	Quantity          decimal.Decimal     `gorm:"type:decimal(20,3);not null;default:0" json:"quantity"`
	CifFc             decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"cif_fc"`
	CifInr            decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"cif_inr"`
	IsRestricted      bool                `gorm:"not null;default:false" json:"is_restricted"`
	DebitedQuantity   decimal.Decimal     `gorm:"type:decimal(20,3);not null;default:0" json:"debited_quantity"`
	DebitedValue      decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"debited_value"`
	AllottedQuantity  decimal.Decimal     `gorm:"type:decimal(20,3);not null;default:0" json:"allotted_quantity"`
	AllottedValue     decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"allotted_value"`
	AvailableQuantity decimal.Decimal     `gorm:"type:decimal(20,3);not null;default:0" json:"available_quantity"`
	AvailableValue    decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"available_value"`
	BalanceCif        decimal.Decimal     `gorm:"type:decimal(20,2);not null;default:0" json:"balance_cif"`
	Tags              []ClassificationTag `gorm:"-" json:"tags,omitempty"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewImportLine struct {
	LicenseId    int             `json:"license_id" validate:"required,gt=0"`
	SerialNumber int             `json:"serial_number" validate:"required,gt=0"`
	Description  string          `json:"description" validate:"max=255"`
	HsCode       string          `json:"hs_code" validate:"max=20"`
	Unit         string          `json:"unit" validate:"max=20"`
	Quantity     decimal.Decimal `json:"quantity"`
	CifFc        decimal.Decimal `json:"cif_fc"`
	CifInr       decimal.Decimal `json:"cif_inr"`
	IsRestricted bool            `json:"is_restricted"`
	TagIds       []int           `json:"tag_ids"`
}

type UpdateImportLineInput struct {
	Description  *string          `json:"description" validate:"omitempty,max=255"`
	Quantity     *decimal.Decimal `json:"quantity"`
	CifFc        *decimal.Decimal `json:"cif_fc"`
	CifInr       *decimal.Decimal `json:"cif_inr"`
	IsRestricted *bool            `json:"is_restricted"`
}

// ImportLineTag orders an import line's tags; the first qualifying tag decides
// the line's restriction category.
type ImportLineTag struct {
	ImportLineId        int `gorm:"primaryKey;autoIncrement:false" json:"import_line_id"`
	ClassificationTagId int `gorm:"primaryKey;autoIncrement:false;index" json:"classification_tag_id"`
	Position            int `gorm:"not null;default:0" json:"position"`
}

func CreateImportLine(ctx context.Context, actor Actor, input *NewImportLine) (*ImportLine, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := utils.ValidateResourceId[License](ctx, db, input.LicenseId); err != nil {
		return nil, err
	}
	var count int64
	if err := db.WithContext(ctx).Model(&ImportLine{}).
		Where("license_id = ? AND serial_number = ?", input.LicenseId, input.SerialNumber).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("serial %d: %w", input.SerialNumber, ErrDuplicateSerialNumber)
	}

	line := ImportLine{
		LicenseId:    input.LicenseId,
		SerialNumber: input.SerialNumber,
		Description:  input.Description,
		HsCode:       input.HsCode,
		Unit:         input.Unit,
		Quantity:     input.Quantity,
		CifFc:        input.CifFc,
		CifInr:       input.CifInr,
		IsRestricted: input.IsRestricted,
		Audit:        actor.created(),
	}
	err := runLedgerMutation(ctx, RecomputeReasonImportLineCreated, func(tx *gorm.DB) ([]int, error) {
		if err := tx.Create(&line).Error; err != nil {
			return nil, err
		}
		if err := replaceImportLineTags(tx, line.ID, input.TagIds); err != nil {
			return nil, err
		}
		return []int{line.LicenseId}, nil
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func UpdateImportLine(ctx context.Context, actor Actor, id int, input *UpdateImportLineInput) (*ImportLine, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	line, err := utils.FetchModel[ImportLine](ctx, config.GetDB(), id)
	if err != nil {
		return nil, err
	}

	updates := actor.updates()
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.Quantity != nil {
		updates["quantity"] = *input.Quantity
	}
	if input.CifFc != nil {
		updates["cif_fc"] = *input.CifFc
	}
	if input.CifInr != nil {
		updates["cif_inr"] = *input.CifInr
	}
	if input.IsRestricted != nil {
		updates["is_restricted"] = *input.IsRestricted
	}

	err = runLedgerMutation(ctx, RecomputeReasonImportLineUpdated, func(tx *gorm.DB) ([]int, error) {
		if err := tx.Model(line).Updates(updates).Error; err != nil {
			return nil, err
		}
		return []int{line.LicenseId}, nil
	})
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[ImportLine](ctx, config.GetDB(), id)
}

// SetImportLineTags replaces the line's tags; tagIds order is the match order.
func SetImportLineTags(ctx context.Context, actor Actor, id int, tagIds []int) (*ImportLine, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	db := config.GetDB()
	line, err := utils.FetchModel[ImportLine](ctx, db, id)
	if err != nil {
		return nil, err
	}
	for _, tagId := range tagIds {
		if err := utils.ValidateResourceId[ClassificationTag](ctx, db, tagId); err != nil {
			return nil, fmt.Errorf("classification tag %d: %w", tagId, err)
		}
	}

	err = runLedgerMutation(ctx, RecomputeReasonImportLineTagged, func(tx *gorm.DB) ([]int, error) {
		if err := replaceImportLineTags(tx, line.ID, tagIds); err != nil {
			return nil, err
		}
		if err := tx.Model(line).Updates(actor.updates()).Error; err != nil {
			return nil, err
		}
		return []int{line.LicenseId}, nil
	})
	if err != nil {
		return nil, err
	}
	tags, err := GetImportLineTags(ctx, line.ID)
	if err != nil {
		return nil, err
	}
	line.Tags = tags
	return line, nil
}

func replaceImportLineTags(tx *gorm.DB, importLineId int, tagIds []int) error {
	if err := tx.Where("import_line_id = ?", importLineId).Delete(&ImportLineTag{}).Error; err != nil {
		return err
	}
	tagIds = utils.UniqueSlice(tagIds)
	if len(tagIds) == 0 {
		return nil
	}
	rows := make([]ImportLineTag, 0, len(tagIds))
	for i, tagId := range tagIds {
		rows = append(rows, ImportLineTag{ImportLineId: importLineId, ClassificationTagId: tagId, Position: i})
	}
	return tx.Create(&rows).Error
}

// GetImportLineTags returns the line's tags in match order.
func GetImportLineTags(ctx context.Context, importLineId int) ([]ClassificationTag, error) {
	var tags []ClassificationTag
	err := config.GetDB().WithContext(ctx).
		Joins("JOIN import_line_tags ON import_line_tags.classification_tag_id = classification_tags.id").
		Where("import_line_tags.import_line_id = ?", importLineId).
		Order("import_line_tags.position").
		Find(&tags).Error
	return tags, err
}

func GetImportLines(ctx context.Context, licenseId int) ([]*ImportLine, error) {
	var lines []*ImportLine
	err := config.GetDB().WithContext(ctx).
		Where("license_id = ?", licenseId).
		Order("serial_number").
		Find(&lines).Error
	return lines, err
}
