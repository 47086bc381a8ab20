package models

import (
	"database/sql/driver"
	"errors"
)

type TransactionType string

const (
	TransactionTypeCredit TransactionType = "C"
	TransactionTypeDebit  TransactionType = "D"
)

func (t TransactionType) IsValid() bool {
	return t == TransactionTypeCredit || t == TransactionTypeDebit
}

func (t *TransactionType) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*t = TransactionType(v)
	case string:
		*t = TransactionType(v)
	default:
		return errors.New("invalid transaction type")
	}
	return nil
}

func (t TransactionType) Value() (driver.Value, error) {
	return string(t), nil
}

type TradeDirection string

const (
	TradeDirectionSale     TradeDirection = "SALE"
	TradeDirectionPurchase TradeDirection = "PURCHASE"
)

func (d TradeDirection) IsValid() bool {
	return d == TradeDirectionSale || d == TradeDirectionPurchase
}

func (d *TradeDirection) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*d = TradeDirection(v)
	case string:
		*d = TradeDirection(v)
	default:
		return errors.New("invalid trade direction")
	}
	return nil
}

func (d TradeDirection) Value() (driver.Value, error) {
	return string(d), nil
}

// Recompute reasons, one per ledger mutation.
const (
	RecomputeReasonLicenseCreated    = "license_created"
	RecomputeReasonExportLineCreated = "export_line_created"
	RecomputeReasonImportLineCreated = "import_line_created"
	RecomputeReasonImportLineUpdated = "import_line_updated"
	RecomputeReasonImportLineTagged  = "import_line_tagged"
	RecomputeReasonDebitRowCreated   = "debit_row_created"
	RecomputeReasonDebitRowDeleted   = "debit_row_deleted"
	RecomputeReasonAllotmentCreated  = "allotment_line_created"
	RecomputeReasonAllotmentDeleted  = "allotment_line_deleted"
	RecomputeReasonAllotmentSettled  = "allotment_settled"
	RecomputeReasonTradeLineCreated  = "trade_line_created"
	RecomputeReasonTradeInvoiced     = "trade_invoiced"
	RecomputeReasonManual            = "manual"
)
