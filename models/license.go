package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// License is a DFIA license header. BalanceCif, IsNull and IsExpired are
// recompute caches; the ledger rows are authoritative.
type License struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	ExporterId         int             `gorm:"index;not null" json:"exporter_id"`
	LicenseNumber      string          `gorm:"size:50;not null;uniqueIndex" json:"license_number"`
	LicenseDate        time.Time       `gorm:"not null" json:"license_date"`
	ExpiryDate         *time.Time      `gorm:"index" json:"expiry_date"`
	NotificationNumber string          `gorm:"size:20;index" json:"notification_number"`
	PurchaseStatus     string          `gorm:"size:10;index" json:"purchase_status"`
	PortCode           string          `gorm:"size:20" json:"port_code"`
	BalanceCif         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance_cif"`
	IsNull             bool            `gorm:"index;not null;default:false" json:"is_null"`
	IsExpired          bool            `gorm:"index;not null;default:false" json:"is_expired"`
	RecomputedAt       *time.Time      `json:"recomputed_at"`
	ExportLines        []ExportLine    `gorm:"foreignKey:LicenseId" json:"export_lines,omitempty"`
	ImportLines        []ImportLine    `gorm:"foreignKey:LicenseId" json:"import_lines,omitempty"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLicense struct {
	ExporterId         int        `json:"exporter_id" validate:"required,gt=0"`
	LicenseNumber      string     `json:"license_number" validate:"required,max=50"`
	LicenseDate        time.Time  `json:"license_date" validate:"required"`
	ExpiryDate         *time.Time `json:"expiry_date"`
	NotificationNumber string     `json:"notification_number" validate:"max=20"`
	PurchaseStatus     string     `json:"purchase_status" validate:"max=10"`
	PortCode           string     `json:"port_code" validate:"max=20"`
}

// ExportLine is a credit line funding its license.
type ExportLine struct {
	ID          int             `gorm:"primary_key" json:"id"`
	LicenseId   int             `gorm:"index;not null" json:"license_id"`
	NormClass   string          `gorm:"size:20;index" json:"norm_class"`
	Description string          `gorm:"size:255" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"quantity"`
	FobFc       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"fob_fc"`
	CifFc       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cif_fc"`
	CifInr      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cif_inr"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewExportLine struct {
	LicenseId   int             `json:"license_id" validate:"required,gt=0"`
	NormClass   string          `json:"norm_class" validate:"max=20"`
	Description string          `json:"description" validate:"max=255"`
	Quantity    decimal.Decimal `json:"quantity"`
	FobFc       decimal.Decimal `json:"fob_fc"`
	CifFc       decimal.Decimal `json:"cif_fc"`
	CifInr      decimal.Decimal `json:"cif_inr"`
}

func CreateLicense(ctx context.Context, actor Actor, input *NewLicense) (*License, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&License{}).Where("license_number = ?", input.LicenseNumber).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("license number %s: %w", input.LicenseNumber, ErrDuplicateLicenseNumber)
	}

	license := License{
		ExporterId:         input.ExporterId,
		LicenseNumber:      input.LicenseNumber,
		LicenseDate:        input.LicenseDate,
		ExpiryDate:         input.ExpiryDate,
		NotificationNumber: input.NotificationNumber,
		PurchaseStatus:     input.PurchaseStatus,
		PortCode:           input.PortCode,
		Audit:              actor.created(),
	}
	err := runLedgerMutation(ctx, RecomputeReasonLicenseCreated, func(tx *gorm.DB) ([]int, error) {
		if err := tx.Create(&license).Error; err != nil {
			return nil, err
		}
		return []int{license.ID}, nil
	})
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func CreateExportLine(ctx context.Context, actor Actor, input *NewExportLine) (*ExportLine, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[License](ctx, config.GetDB(), input.LicenseId); err != nil {
		return nil, err
	}

	line := ExportLine{
		LicenseId:   input.LicenseId,
		NormClass:   input.NormClass,
		Description: input.Description,
		Quantity:    input.Quantity,
		FobFc:       input.FobFc,
		CifFc:       input.CifFc,
		CifInr:      input.CifInr,
		Audit:       actor.created(),
	}
	err := runLedgerMutation(ctx, RecomputeReasonExportLineCreated, func(tx *gorm.DB) ([]int, error) {
		if err := tx.Create(&line).Error; err != nil {
			return nil, err
		}
		return []int{line.LicenseId}, nil
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func GetLicense(ctx context.Context, id int) (*License, error) {
	return utils.FetchModel[License](ctx, config.GetDB(), id)
}

func GetLicenseByNumber(ctx context.Context, licenseNumber string) (*License, error) {
	var license License
	err := config.GetDB().WithContext(ctx).Where("license_number = ?", licenseNumber).First(&license).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// GetLicenseIds lists every license id visible to ctx, ascending.
func GetLicenseIds(ctx context.Context) ([]int, error) {
	var ids []int
	err := config.GetDB().WithContext(ctx).Model(&License{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}
