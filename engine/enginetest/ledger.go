// Package enginetest provides an in-memory engine.Ledger for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"github.com/shopspring/decimal"
)

type row struct {
	licenseId int
	itemId    int
	qty       decimal.Decimal
	value     decimal.Decimal
	counts    bool
}

// Ledger is a mutable, concurrency-safe in-memory ledger. Err, when set, is
// returned from every call.
type Ledger struct {
	mu         sync.RWMutex
	licenses   map[int]*engine.License
	items      map[int]*engine.ImportItem
	order      []int
	credits    []row
	debits     []row
	allotments []row
	trades     []row
	Err        error
}

func NewLedger() *Ledger {
	return &Ledger{
		licenses: map[int]*engine.License{},
		items:    map[int]*engine.ImportItem{},
	}
}

func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (l *Ledger) AddLicense(license engine.License) *engine.License {
	l.mu.Lock()
	defer l.mu.Unlock()
	lic := license
	l.licenses[lic.ID] = &lic
	return &lic
}

func (l *Ledger) AddItem(item engine.ImportItem) *engine.ImportItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	it := item
	if _, ok := l.items[it.ID]; !ok {
		l.order = append(l.order, it.ID)
	}
	l.items[it.ID] = &it
	return &it
}

func (l *Ledger) AddCredit(licenseId int, qty, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits = append(l.credits, row{licenseId: licenseId, qty: D(qty), value: D(value), counts: true})
}

// AddDebit records a BOE row; isDebit=false is a correction row that never counts.
func (l *Ledger) AddDebit(itemId int, qty, value string, isDebit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debits = append(l.debits, l.itemRow(itemId, qty, value, isDebit))
}

func (l *Ledger) AddAllotment(itemId int, qty, value string, settled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allotments = append(l.allotments, l.itemRow(itemId, qty, value, !settled))
}

// AddTrade counts only SALE lines that are not invoiced.
func (l *Ledger) AddTrade(itemId int, qty, value string, sale bool, invoiced bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, l.itemRow(itemId, qty, value, sale && !invoiced))
}

func (l *Ledger) itemRow(itemId int, qty, value string, counts bool) row {
	licenseId := 0
	if it, ok := l.items[itemId]; ok {
		licenseId = it.LicenseId
	}
	return row{licenseId: licenseId, itemId: itemId, qty: D(qty), value: D(value), counts: counts}
}

func (l *Ledger) License(_ context.Context, licenseId int) (*engine.License, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.Err != nil {
		return nil, l.Err
	}
	lic, ok := l.licenses[licenseId]
	if !ok {
		return nil, fmt.Errorf("license %d: %w", licenseId, engine.ErrLicenseNotFound)
	}
	cp := *lic
	return &cp, nil
}

func (l *Ledger) ImportItem(_ context.Context, itemId int) (*engine.ImportItem, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.Err != nil {
		return nil, l.Err
	}
	it, ok := l.items[itemId]
	if !ok {
		return nil, fmt.Errorf("import item %d: %w", itemId, engine.ErrImportItemNotFound)
	}
	cp := *it
	return &cp, nil
}

func (l *Ledger) ImportItems(_ context.Context, licenseId int) ([]*engine.ImportItem, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var out []*engine.ImportItem
	for _, id := range l.order {
		if it := l.items[id]; it.LicenseId == licenseId {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *Ledger) CreditTotals(_ context.Context, licenseId int) (engine.RawTotals, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.Err != nil {
		return engine.RawTotals{}, l.Err
	}
	return sum(l.credits, func(r row) bool { return r.licenseId == licenseId }), nil
}

func (l *Ledger) DebitTotals(_ context.Context, scope engine.Scope) (engine.RawTotals, error) {
	return l.scoped(l.debits, scope)
}

func (l *Ledger) AllotmentTotals(_ context.Context, scope engine.Scope) (engine.RawTotals, error) {
	return l.scoped(l.allotments, scope)
}

func (l *Ledger) TradeTotals(_ context.Context, scope engine.Scope) (engine.RawTotals, error) {
	return l.scoped(l.trades, scope)
}

func (l *Ledger) scoped(rows []row, scope engine.Scope) (engine.RawTotals, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.Err != nil {
		return engine.RawTotals{}, l.Err
	}
	ids := map[int]bool{}
	for _, id := range scope.ItemIds {
		ids[id] = true
	}
	return sum(rows, func(r row) bool {
		if r.licenseId != scope.LicenseId {
			return false
		}
		return !scope.IsItemScoped() || ids[r.itemId]
	}), nil
}

// sum mirrors SQL SUM: no matching rows yields NULL.
func sum(rows []row, match func(row) bool) engine.RawTotals {
	var t engine.RawTotals
	for _, r := range rows {
		if !r.counts || !match(r) {
			continue
		}
		t.Quantity = decimal.NewNullDecimal(t.Quantity.Decimal.Add(r.qty))
		t.Value = decimal.NewNullDecimal(t.Value.Decimal.Add(r.value))
	}
	return t
}
