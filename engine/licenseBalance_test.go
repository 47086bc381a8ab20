package engine_test

import (
	"context"
	"io"
	"testing"

	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"bitbucket.org/mmdatafocus/dfia_ledger/engine/enginetest"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var d = enginetest.D

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEngine(ledger engine.Ledger) *engine.Engine {
	return engine.New(ledger, engine.Options{Logger: quietLogger()})
}

// baseLicense: credit 1000, one 200 debit, one unsettled 150 allotment.
func baseLicense(t *testing.T) *enginetest.Ledger {
	t.Helper()
	l := enginetest.NewLedger()
	l.AddLicense(engine.License{ID: 1, LicenseNumber: "0310000001", NotificationNumber: "019/2015", NormClasses: []string{"E5"}})
	l.AddItem(engine.ImportItem{ID: 11, LicenseId: 1, SerialNumber: 1, Quantity: d("100"), CifFc: d("600")})
	l.AddItem(engine.ImportItem{ID: 12, LicenseId: 1, SerialNumber: 2, Quantity: d("50"), CifFc: d("400")})
	l.AddCredit(1, "500", "1000.00")
	l.AddDebit(11, "20", "200.00", true)
	l.AddAllotment(12, "10", "150.00", false)
	return l
}

func TestCalculateBalance(t *testing.T) {
	ctx := context.Background()
	e := newEngine(baseLicense(t))

	bal, err := e.Licenses.CalculateBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, d("650.00").Equal(bal), "got %s", bal)

	comps, err := e.Licenses.CalculateAllComponents(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1000", comps.Credit.String())
	assert.Equal(t, "200", comps.Debit.String())
	assert.Equal(t, "150", comps.Allotment.String())
	assert.True(t, comps.Trade.IsZero())
	assert.True(t, bal.Equal(comps.Balance))
}

func TestCalculateBalance_NoRowsIsZero(t *testing.T) {
	l := enginetest.NewLedger()
	l.AddLicense(engine.License{ID: 7})
	e := newEngine(l)

	bal, err := e.Licenses.CalculateBalance(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	// A license id with no record at all still sums to zero.
	bal, err = e.Licenses.CalculateBalance(context.Background(), 404)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestCalculateBalance_ClampsOverAllocation(t *testing.T) {
	l := enginetest.NewLedger()
	l.AddLicense(engine.License{ID: 2})
	l.AddItem(engine.ImportItem{ID: 21, LicenseId: 2, SerialNumber: 1})
	l.AddCredit(2, "0", "100.00")
	l.AddDebit(21, "1", "80.00", true)
	l.AddAllotment(21, "1", "40.00", false)

	var clampedLicense int
	var clampedRaw decimal.Decimal
	e := engine.New(l, engine.Options{
		Logger: quietLogger(),
		OnNegativeBalance: func(licenseId int, raw decimal.Decimal) {
			clampedLicense = licenseId
			clampedRaw = raw
		},
	})

	bal, err := e.Licenses.CalculateBalance(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	assert.Equal(t, 2, clampedLicense)
	assert.Equal(t, "-20", clampedRaw.String())
}

func TestCalculateBalance_Idempotent(t *testing.T) {
	e := newEngine(baseLicense(t))
	first, err := e.Licenses.CalculateBalance(context.Background(), 1)
	require.NoError(t, err)
	second, err := e.Licenses.CalculateBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}

func TestCalculateBalance_CountsOnlyOpenRows(t *testing.T) {
	l := baseLicense(t)
	// Ignored: settled allotment, credit-type BOE row, purchase trade, invoiced sale.
	l.AddAllotment(11, "5", "70.00", true)
	l.AddDebit(11, "5", "30.00", false)
	l.AddTrade(12, "1", "25.00", false, false)
	l.AddTrade(12, "1", "35.00", true, true)
	// Counted: open sale.
	l.AddTrade(12, "2", "50.00", true, false)

	comps, err := newEngine(l).Licenses.CalculateAllComponents(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "200", comps.Debit.String())
	assert.Equal(t, "150", comps.Allotment.String())
	assert.Equal(t, "50", comps.Trade.String())
	assert.Equal(t, "600", comps.Balance.String())
}

func TestCalculateBalance_RoundsHalfUp(t *testing.T) {
	l := enginetest.NewLedger()
	l.AddLicense(engine.License{ID: 3})
	l.AddCredit(3, "0", "10.004")
	l.AddCredit(3, "0", "0.001")

	comps, err := newEngine(l).Licenses.CalculateAllComponents(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "10.01", comps.Credit.String())
	assert.Equal(t, "10.01", comps.Balance.String())
}

func TestAggregator_EmptyItemScopeIsZero(t *testing.T) {
	e := newEngine(baseLicense(t))
	tot, err := e.Aggregator.Debit(context.Background(), engine.ItemScope(1))
	require.NoError(t, err)
	assert.True(t, tot.Value.IsZero())
	assert.True(t, tot.Quantity.IsZero())

	tot, err = e.Aggregator.Debit(context.Background(), engine.ItemScope(1, 11))
	require.NoError(t, err)
	assert.Equal(t, "200", tot.Value.String())
	assert.Equal(t, "20", tot.Quantity.String())
}

func TestDecimalHelpers(t *testing.T) {
	assert.Equal(t, "2.35", engine.Money(d("2.345")).String())
	assert.Equal(t, "2.34", engine.MoneyDown(d("2.349")).String())
	assert.Equal(t, "1.235", engine.Quantity(d("1.2345")).String())
	assert.True(t, engine.SafeDiv(d("5"), decimal.Zero, 2).IsZero())
	assert.Equal(t, "2.5", engine.SafeDiv(d("5"), d("2"), 2).String())
	assert.True(t, engine.OrZero(decimal.NullDecimal{}).IsZero())
	assert.True(t, engine.ParseOrZero("").IsZero())
	assert.True(t, engine.ParseOrZero("n/a").IsZero())
	assert.Equal(t, "12.5", engine.ParseOrZero(" 12.50 ").String())
	assert.True(t, engine.FloorZero(d("-1")).IsZero())
}
