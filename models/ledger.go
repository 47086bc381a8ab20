package models

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormLedger answers engine.Ledger with aggregate queries over committed rows.
// Pass a transaction handle to read one consistent snapshot.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

type sumRow struct {
	Quantity decimal.NullDecimal
	Value    decimal.NullDecimal
}

func (s sumRow) totals() engine.RawTotals {
	return engine.RawTotals{Quantity: s.Quantity, Value: s.Value}
}

type lineTagRow struct {
	ImportLineId          int
	ID                    int
	Name                  string
	NormClass             string
	RestrictionKey        string
	RestrictionPercentage decimal.Decimal
}

func (l *GormLedger) License(ctx context.Context, licenseId int) (*engine.License, error) {
	var lic License
	err := l.db.WithContext(ctx).First(&lic, licenseId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("license %d: %w", licenseId, engine.ErrLicenseNotFound)
	}
	if err != nil {
		return nil, err
	}

	var norms []string
	if err := l.db.WithContext(ctx).Model(&ExportLine{}).
		Where("license_id = ? AND norm_class <> ''", licenseId).
		Distinct().
		Order("norm_class").
		Pluck("norm_class", &norms).Error; err != nil {
		return nil, err
	}

	return &engine.License{
		ID:                 lic.ID,
		LicenseNumber:      lic.LicenseNumber,
		NotificationNumber: lic.NotificationNumber,
		PurchaseStatus:     lic.PurchaseStatus,
		NormClasses:        norms,
		ExpiryDate:         lic.ExpiryDate,
	}, nil
}

func (l *GormLedger) ImportItem(ctx context.Context, itemId int) (*engine.ImportItem, error) {
	var line ImportLine
	err := l.db.WithContext(ctx).First(&line, itemId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("import item %d: %w", itemId, engine.ErrImportItemNotFound)
	}
	if err != nil {
		return nil, err
	}
	tags, err := l.tagsByLine(ctx, []int{line.ID})
	if err != nil {
		return nil, err
	}
	return toEngineItem(line, tags[line.ID]), nil
}

func (l *GormLedger) ImportItems(ctx context.Context, licenseId int) ([]*engine.ImportItem, error) {
	var lines []ImportLine
	if err := l.db.WithContext(ctx).
		Where("license_id = ?", licenseId).
		Order("serial_number").
		Find(&lines).Error; err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}

	ids := make([]int, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ID)
	}
	tags, err := l.tagsByLine(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]*engine.ImportItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, toEngineItem(line, tags[line.ID]))
	}
	return items, nil
}

func (l *GormLedger) tagsByLine(ctx context.Context, lineIds []int) (map[int][]engine.ClassificationTag, error) {
	var rows []lineTagRow
	if err := l.db.WithContext(ctx).
		Table("import_line_tags").
		Select("import_line_tags.import_line_id, classification_tags.id, classification_tags.name, " +
			"classification_tags.norm_class, classification_tags.restriction_key, classification_tags.restriction_percentage").
		Joins("JOIN classification_tags ON classification_tags.id = import_line_tags.classification_tag_id").
		Where("import_line_tags.import_line_id IN ?", lineIds).
		Order("import_line_tags.import_line_id, import_line_tags.position").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int][]engine.ClassificationTag, len(lineIds))
	for _, r := range rows {
		out[r.ImportLineId] = append(out[r.ImportLineId], engine.ClassificationTag{
			ID:                    r.ID,
			Name:                  r.Name,
			RestrictionKey:        r.RestrictionKey,
			RestrictionPercentage: r.RestrictionPercentage,
			NormClass:             r.NormClass,
		})
	}
	return out, nil
}

func toEngineItem(line ImportLine, tags []engine.ClassificationTag) *engine.ImportItem {
	return &engine.ImportItem{
		ID:           line.ID,
		LicenseId:    line.LicenseId,
		SerialNumber: line.SerialNumber,
		Description:  line.Description,
		Quantity:     line.Quantity,
		CifFc:        line.CifFc,
		CifInr:       line.CifInr,
		IsRestricted: line.IsRestricted,
		Tags:         tags,
	}
}

func (l *GormLedger) CreditTotals(ctx context.Context, licenseId int) (engine.RawTotals, error) {
	var s sumRow
	err := l.db.WithContext(ctx).Model(&ExportLine{}).
		Select("SUM(quantity) AS quantity, SUM(cif_fc) AS value").
		Where("license_id = ?", licenseId).
		Scan(&s).Error
	return s.totals(), err
}

func (l *GormLedger) DebitTotals(ctx context.Context, scope engine.Scope) (engine.RawTotals, error) {
	var s sumRow
	q := l.db.WithContext(ctx).Model(&DebitRow{}).
		Select("SUM(debit_rows.quantity) AS quantity, SUM(debit_rows.cif_fc) AS value").
		Where("debit_rows.license_id = ? AND debit_rows.transaction_type = ?", scope.LicenseId, TransactionTypeDebit)
	if scope.IsItemScoped() {
		q = q.Where("debit_rows.import_line_id IN ?", scope.ItemIds)
	}
	err := q.Scan(&s).Error
	return s.totals(), err
}

func (l *GormLedger) AllotmentTotals(ctx context.Context, scope engine.Scope) (engine.RawTotals, error) {
	var s sumRow
	q := l.db.WithContext(ctx).Model(&AllotmentLine{}).
		Select("SUM(allotment_lines.quantity) AS quantity, SUM(allotment_lines.cif_fc) AS value").
		Joins("JOIN allotments ON allotments.id = allotment_lines.allotment_id").
		Where("allotment_lines.license_id = ? AND allotments.bill_of_entry_id IS NULL", scope.LicenseId)
	if scope.IsItemScoped() {
		q = q.Where("allotment_lines.import_line_id IN ?", scope.ItemIds)
	}
	err := q.Scan(&s).Error
	return s.totals(), err
}

func (l *GormLedger) TradeTotals(ctx context.Context, scope engine.Scope) (engine.RawTotals, error) {
	var s sumRow
	q := l.db.WithContext(ctx).Model(&TradeLine{}).
		Select("SUM(trade_lines.quantity) AS quantity, SUM(trade_lines.cif_fc) AS value").
		Joins("JOIN trades ON trades.id = trade_lines.trade_id").
		Joins("LEFT JOIN bill_of_entries ON bill_of_entries.id = trades.bill_of_entry_id").
		Where("trade_lines.license_id = ? AND trades.direction = ?", scope.LicenseId, TradeDirectionSale).
		Where("(trades.bill_of_entry_id IS NULL OR bill_of_entries.invoice_number IS NULL OR bill_of_entries.invoice_number = '')")
	if scope.IsItemScoped() {
		q = q.Where("trade_lines.import_line_id IN ?", scope.ItemIds)
	}
	err := q.Scan(&s).Error
	return s.totals(), err
}
