package main

import (
	"context"

	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	licenseSheet     = "Licenses"
	restrictionSheet = "Restrictions"
	itemSheet        = "Items"
)

type licenseReport struct {
	LicenseId     int
	LicenseNumber string
	Components    engine.Components
	Restrictions  []engine.RestrictionDetail
	Items         []engine.ItemBalance
}

func collectLicenseReport(ctx context.Context, e *engine.Engine, licenseId int, licenseNumber string) (licenseReport, error) {
	r := licenseReport{LicenseId: licenseId, LicenseNumber: licenseNumber}
	var err error
	if r.Components, err = e.Licenses.CalculateAllComponents(ctx, licenseId); err != nil {
		return r, err
	}
	if r.Restrictions, err = e.Restrictions.RestrictionBreakdown(ctx, licenseId); err != nil {
		return r, err
	}
	if r.Items, err = e.Items.ResolveLicense(ctx, licenseId); err != nil {
		return r, err
	}
	return r, nil
}

func writeRow(f *excelize.File, sheet string, rowNo int, values ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNo)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func num(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// buildWorkbook lays out one row per license, per restriction category and per item.
func buildWorkbook(reports []licenseReport) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", licenseSheet); err != nil {
		return nil, err
	}
	for _, s := range []string{restrictionSheet, itemSheet} {
		if _, err := f.NewSheet(s); err != nil {
			return nil, err
		}
	}

	if err := writeRow(f, licenseSheet, 1, "LicenseNumber", "Credit", "Debit", "Allotment", "Trade", "Balance"); err != nil {
		return nil, err
	}
	if err := writeRow(f, restrictionSheet, 1, "LicenseNumber", "Category", "Allowed", "Consumed", "LicenseBalance", "Remaining", "Exempt"); err != nil {
		return nil, err
	}
	if err := writeRow(f, itemSheet, 1, "LicenseNumber", "ItemId", "AvailableValue", "AvailableStrategy", "BalanceCif", "BalanceStrategy", "AvailableQuantity", "DebitedQuantity", "DebitedValue", "AllottedQuantity", "AllottedValue"); err != nil {
		return nil, err
	}

	licenseRow, restrictionRow, itemRow := 2, 2, 2
	for _, r := range reports {
		c := r.Components
		if err := writeRow(f, licenseSheet, licenseRow, r.LicenseNumber, num(c.Credit), num(c.Debit), num(c.Allotment), num(c.Trade), num(c.Balance)); err != nil {
			return nil, err
		}
		licenseRow++

		for _, d := range r.Restrictions {
			if err := writeRow(f, restrictionSheet, restrictionRow, r.LicenseNumber, d.Category.Key, num(d.Allowed), num(d.Consumed), num(d.LicenseBalance), num(d.Remaining), d.Exempt); err != nil {
				return nil, err
			}
			restrictionRow++
		}

		for _, it := range r.Items {
			if err := writeRow(f, itemSheet, itemRow, r.LicenseNumber, it.ItemId,
				num(it.AvailableValue), it.AvailableStrategy, num(it.BalanceCif), it.BalanceStrategy, num(it.AvailableQuantity),
				num(it.Debited.Quantity), num(it.Debited.Value), num(it.Allotted.Quantity), num(it.Allotted.Value)); err != nil {
				return nil, err
			}
			itemRow++
		}
	}
	return f, nil
}
