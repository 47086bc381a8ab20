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

// Trade is a license sale or purchase. SALE lines count against balances until
// the trade's BOE carries an invoice number.
type Trade struct {
	ID            int            `gorm:"primary_key" json:"id"`
	Direction     TradeDirection `gorm:"type:enum('SALE','PURCHASE');not null;index" json:"direction"`
	PartyName     string         `gorm:"size:150;not null" json:"party_name"`
	TradeDate     time.Time      `gorm:"not null;index" json:"trade_date"`
	BillOfEntryId *int           `gorm:"index" json:"bill_of_entry_id"`
	TradeLines    []TradeLine    `gorm:"foreignKey:TradeId" json:"trade_lines,omitempty"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTrade struct {
	Direction TradeDirection `json:"direction" validate:"required"`
	PartyName string         `json:"party_name" validate:"required,max=150"`
	TradeDate time.Time      `json:"trade_date" validate:"required"`
}

type TradeLine struct {
	ID           int             `gorm:"primary_key" json:"id"`
	TradeId      int             `gorm:"index;not null" json:"trade_id"`
	ImportLineId int             `gorm:"index;not null" json:"import_line_id"`
	LicenseId    int             `gorm:"index;not null" json:"license_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,3);not null;default:0" json:"qty"`
	CifFc        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cif_fc"`
	Audit
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTradeLine struct {
	TradeId      int             `json:"trade_id" validate:"required,gt=0"`
	ImportLineId int             `json:"import_line_id" validate:"required,gt=0"`
	Quantity     decimal.Decimal `json:"qty"`
	CifFc        decimal.Decimal `json:"cif_fc"`
}

func CreateTrade(ctx context.Context, actor Actor, input *NewTrade) (*Trade, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Direction.IsValid() {
		return nil, fmt.Errorf("%q: %w", input.Direction, ErrInvalidTradeDirection)
	}
	trade := Trade{
		Direction: input.Direction,
		PartyName: input.PartyName,
		TradeDate: input.TradeDate,
		Audit:     actor.created(),
	}
	if err := config.GetDB().WithContext(ctx).Create(&trade).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

func CreateTradeLine(ctx context.Context, actor Actor, input *NewTradeLine) (*TradeLine, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := utils.ValidateResourceId[Trade](ctx, db, input.TradeId); err != nil {
		return nil, err
	}
	line, err := utils.FetchModel[ImportLine](ctx, db, input.ImportLineId)
	if err != nil {
		return nil, err
	}

	row := TradeLine{
		TradeId:      input.TradeId,
		ImportLineId: line.ID,
		LicenseId:    line.LicenseId,
		Quantity:     input.Quantity,
		CifFc:        input.CifFc,
		Audit:        actor.created(),
	}
	err = runLedgerMutation(ctx, RecomputeReasonTradeLineCreated, func(tx *gorm.DB) ([]int, error) {
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

// SetTradeInvoice links the trade to a BOE and records the invoice number on
// that BOE. The invoice number releases (or, when empty, re-counts) the SALE lines
// of every trade on that BOE, so all of their licenses are recomputed.
func SetTradeInvoice(ctx context.Context, actor Actor, tradeId int, billOfEntryId int, invoiceNumber string) (*Trade, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	db := config.GetDB()
	trade, err := utils.FetchModel[Trade](ctx, db, tradeId)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[BillOfEntry](ctx, db, billOfEntryId); err != nil {
		return nil, err
	}

	err = runLedgerMutation(ctx, RecomputeReasonTradeInvoiced, func(tx *gorm.DB) ([]int, error) {
		updates := actor.updates()
		updates["bill_of_entry_id"] = billOfEntryId
		if err := tx.Model(trade).Updates(updates).Error; err != nil {
			return nil, err
		}
		boeUpdates := actor.updates()
		boeUpdates["invoice_number"] = utils.NilIfEmpty(invoiceNumber)
		if err := tx.Model(&BillOfEntry{}).Where("id = ?", billOfEntryId).Updates(boeUpdates).Error; err != nil {
			return nil, err
		}
		return tradeLicenseIdsOnBillOfEntry(tx, billOfEntryId, trade.ID)
	})
	if err != nil {
		return nil, err
	}
	trade.BillOfEntryId = &billOfEntryId
	return trade, nil
}

// tradeLicenseIdsOnBillOfEntry lists the licenses of every trade line whose trade
// is linked to billOfEntryId, plus the lines of tradeId.
func tradeLicenseIdsOnBillOfEntry(tx *gorm.DB, billOfEntryId int, tradeId int) ([]int, error) {
	var licenseIds []int
	err := tx.Model(&TradeLine{}).
		Where("trade_id = ? OR trade_id IN (?)", tradeId,
			tx.Model(&Trade{}).Select("id").Where("bill_of_entry_id = ?", billOfEntryId)).
		Distinct().Order("license_id").Pluck("license_id", &licenseIds).Error
	return licenseIds, err
}
