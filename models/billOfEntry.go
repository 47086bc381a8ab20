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

// BillOfEntry is a customs import declaration. Its rows debit license items.
type BillOfEntry struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BillOfEntryNumber string          `gorm:"size:50;not null;uniqueIndex" json:"bill_of_entry_number"`
	BillOfEntryDate   time.Time       `gorm:"not null;index" json:"bill_of_entry_date"`
	PortCode          string          `gorm:"size:20" json:"port_code"`
	ExchangeRate      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"exchange_rate"`
	InvoiceNumber     *string         `gorm:"size:100" json:"invoice_number"`
	DebitRows         []DebitRow      `gorm:"foreignKey:BillOfEntryId" json:"debit_rows,omitempty"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBillOfEntry struct {
	BillOfEntryNumber string          `json:"bill_of_entry_number" validate:"required,max=50"`
	BillOfEntryDate   time.Time       `json:"bill_of_entry_date" validate:"required"`
	PortCode          string          `json:"port_code" validate:"max=20"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
	InvoiceNumber     *string         `json:"invoice_number" validate:"omitempty,max=100"`
}

// DebitRow is one BOE line against an import line. Only debit-type rows reduce
// balances; credit-type rows are ledger corrections.
type DebitRow struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BillOfEntryId   int             `gorm:"index;not null" json:"bill_of_entry_id"`
	ImportLineId    int             `gorm:"index;not null" json:"import_line_id"`
	LicenseId       int             `gorm:"index;not null" json:"license_id"`
	TransactionType TransactionType `gorm:"type:enum('C','D');not null;default:'D'" json:"transaction_type"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"qty"`
	CifFc           decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cif_fc"`
	CifInr          decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cif_inr"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDebitRow struct {
	BillOfEntryId   int             `json:"bill_of_entry_id" validate:"required,gt=0"`
	ImportLineId    int             `json:"import_line_id" validate:"required,gt=0"`
	TransactionType TransactionType `json:"transaction_type"`
	Quantity        decimal.Decimal `json:"qty"`
	CifFc           decimal.Decimal `json:"cif_fc"`
	CifInr          decimal.Decimal `json:"cif_inr"`
}

func CreateBillOfEntry(ctx context.Context, actor Actor, input *NewBillOfEntry) (*BillOfEntry, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	boe := BillOfEntry{
		BillOfEntryNumber: input.BillOfEntryNumber,
		BillOfEntryDate:   input.BillOfEntryDate,
		PortCode:          input.PortCode,
		ExchangeRate:      input.ExchangeRate,
		InvoiceNumber:     input.InvoiceNumber,
		Audit:             actor.created(),
	}
	if err := config.GetDB().WithContext(ctx).Create(&boe).Error; err != nil {
		return nil, err
	}
	return &boe, nil
}

func CreateDebitRow(ctx context.Context, actor Actor, input *NewDebitRow) (*DebitRow, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.TransactionType == "" {
		input.TransactionType = TransactionTypeDebit
	}
	if !input.TransactionType.IsValid() {
		return nil, fmt.Errorf("%q: %w", input.TransactionType, ErrInvalidTransactionType)
	}
	db := config.GetDB()
	if err := utils.ValidateResourceId[BillOfEntry](ctx, db, input.BillOfEntryId); err != nil {
		return nil, err
	}
	line, err := utils.FetchModel[ImportLine](ctx, db, input.ImportLineId)
	if err != nil {
		return nil, err
	}

	row := DebitRow{
		BillOfEntryId:   input.BillOfEntryId,
		ImportLineId:    line.ID,
		LicenseId:       line.LicenseId,
		TransactionType: input.TransactionType,
		Quantity:        input.Quantity,
		CifFc:           input.CifFc,
		CifInr:          input.CifInr,
		Audit:           actor.created(),
	}
	err = runLedgerMutation(ctx, RecomputeReasonDebitRowCreated, func(tx *gorm.DB) ([]int, error) {
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

func DeleteDebitRow(ctx context.Context, actor Actor, id int) (*DebitRow, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	row, err := utils.FetchModel[DebitRow](ctx, config.GetDB(), id)
	if err != nil {
		return nil, err
	}
	err = runLedgerMutation(ctx, RecomputeReasonDebitRowDeleted, func(tx *gorm.DB) ([]int, error) {
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

func (BillOfEntry) TableName() string {
	return "bill_of_entries"
}
