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

// Allotment reserves license value for a future import. Its lines count against
// balances until the allotment is settled by linking a BOE.
type Allotment struct {
	ID               int             `gorm:"primary_key" json:"id"`
	CompanyName      string          `gorm:"size:150;not null" json:"company_name"`
	ItemName         string          `gorm:"size:255" json:"item_name"`
	RequiredQuantity decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"required_quantity"`
	UnitValuePerUnit decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"unit_value_per_unit"`
	CifFc            decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cif_fc"`
	EstimatedArrival *time.Time      `json:"estimated_arrival"`
	BillOfEntryId    *int            `gorm:"index" json:"bill_of_entry_id"`
	AllotmentLines   []AllotmentLine `gorm:"foreignKey:AllotmentId" json:"allotment_lines,omitempty"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Allotment) IsSettled() bool {
	return a.BillOfEntryId != nil
}

type NewAllotment struct {
	CompanyName      string          `json:"company_name" validate:"required,max=150"`
	ItemName         string          `json:"item_name" validate:"max=255"`
	RequiredQuantity decimal.Decimal `json:"required_quantity"`
	UnitValuePerUnit decimal.Decimal `json:"unit_value_per_unit"`
	CifFc            decimal.Decimal `json:"cif_fc"`
	EstimatedArrival *time.Time      `json:"estimated_arrival"`
}

type AllotmentLine struct {
	ID           int             `gorm:"primary_key" json:"id"`
	AllotmentId  int             `gorm:"index;not null" json:"allotment_id"`
	ImportLineId int             `gorm:"index;not null" json:"import_line_id"`
	LicenseId    int             `gorm:"index;not null" json:"license_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"qty"`
	CifFc        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cif_fc"`
	CifInr       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cif_inr"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAllotmentLine struct {
	AllotmentId  int             `json:"allotment_id" validate:"required,gt=0"`
	ImportLineId int             `json:"import_line_id" validate:"required,gt=0"`
	Quantity     decimal.Decimal `json:"qty"`
	CifFc        decimal.Decimal `json:"cif_fc"`
	CifInr       decimal.Decimal `json:"cif_inr"`
}

func CreateAllotment(ctx context.Context, actor Actor, input *NewAllotment) (*Allotment, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	allotment := Allotment{
		CompanyName:      input.CompanyName,
		ItemName:         input.ItemName,
		RequiredQuantity: input.RequiredQuantity,
		UnitValuePerUnit: input.UnitValuePerUnit,
		CifFc:            input.CifFc,
		EstimatedArrival: input.EstimatedArrival,
		Audit:            actor.created(),
	}
	if err := config.GetDB().WithContext(ctx).Create(&allotment).Error; err != nil {
		return nil, err
	}
	return &allotment, nil
}

func CreateAllotmentLine(ctx context.Context, actor Actor, input *NewAllotmentLine) (*AllotmentLine, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB()
	allotment, err := utils.FetchModel[Allotment](ctx, db, input.AllotmentId)
	if err != nil {
		return nil, err
	}
	if allotment.IsSettled() {
		return nil, fmt.Errorf("allotment %d: %w", allotment.ID, ErrAllotmentSettled)
	}
	line, err := utils.FetchModel[ImportLine](ctx, db, input.ImportLineId)
	if err != nil {
		return nil, err
	}

	row := AllotmentLine{
		AllotmentId:  allotment.ID,
		ImportLineId: line.ID,
		LicenseId:    line.LicenseId,
		Quantity:     input.Quantity,
		CifFc:        input.CifFc,
		CifInr:       input.CifInr,
		Audit:        actor.created(),
	}
	err = runLedgerMutation(ctx, RecomputeReasonAllotmentCreated, func(tx *gorm.DB) ([]int, error) {
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		return []int{row.LicenseId}, nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func DeleteAllotmentLine(ctx context.Context, actor Actor, id int) (*AllotmentLine, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	row, err := utils.FetchModel[AllotmentLine](ctx, config.GetDB(), id)
	if err != nil {
		return nil, err
	}
	err = runLedgerMutation(ctx, RecomputeReasonAllotmentDeleted, func(tx *gorm.DB) ([]int, error) {
		if err := tx.Delete(row).Error; err != nil {
			return nil, err
		}
		return []int{row.LicenseId}, nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// SettleAllotment links the allotment to a BOE. Its lines stop counting as
// allotments; the BOE's debit rows carry that value from now on.
func SettleAllotment(ctx context.Context, actor Actor, allotmentId int, billOfEntryId int) (*Allotment, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	db := config.GetDB()
	allotment, err := utils.FetchModel[Allotment](ctx, db, allotmentId)
	if err != nil {
		return nil, err
	}
	if allotment.IsSettled() {
		return nil, fmt.Errorf("allotment %d: %w", allotment.ID, ErrAllotmentSettled)
	}
	if err := utils.ValidateResourceId[BillOfEntry](ctx, db, billOfEntryId); err != nil {
		return nil, err
	}

	err = runLedgerMutation(ctx, RecomputeReasonAllotmentSettled, func(tx *gorm.DB) ([]int, error) {
		updates := actor.updates()
		updates["bill_of_entry_id"] = billOfEntryId
		if err := tx.Model(allotment).Updates(updates).Error; err != nil {
			return nil, err
		}
		var licenseIds []int
		if err := tx.Model(&AllotmentLine{}).Where("allotment_id = ?", allotment.ID).
			Distinct().Pluck("license_id", &licenseIds).Error; err != nil {
			return nil, err
		}
		return licenseIds, nil
	})
	if err != nil {
		return nil, err
	}
	allotment.BillOfEntryId = &billOfEntryId
	return allotment, nil
}
