package engine_test

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"bitbucket.org/mmdatafocus/dfia_ledger/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flavouringTag = engine.ClassificationTag{ID: 1, Name: "FLAVOURING - E5", RestrictionPercentage: d("10"), NormClass: "E5"}

func restrictedLicense(t *testing.T, notification, purchaseStatus string) *enginetest.Ledger {
	t.Helper()
	l := baseLicense(t)
	l.AddLicense(engine.License{ID: 1, NotificationNumber: notification, PurchaseStatus: purchaseStatus, NormClasses: []string{"E5"}})
	l.AddItem(engine.ImportItem{ID: 13, LicenseId: 1, SerialNumber: 3, Quantity: d("10"), CifFc: d("50"), IsRestricted: true, Tags: []engine.ClassificationTag{flavouringTag}})
	return l
}

func TestRestrictionBalances_CappedByPercentage(t *testing.T) {
	e := newEngine(restrictedLicense(t, "019/2015", "GE"))

	got, err := e.Restrictions.RestrictionBalances(context.Background(), 1)
	require.NoError(t, err)
	require.Contains(t, got, "E5:10")
	assert.Equal(t, "100", got["E5:10"].String())
}

func TestRestrictionBalances_ExceptionNotification(t *testing.T) {
	l := restrictedLicense(t, "098/2009", "GE")
	l.AddDebit(13, "1", "90.00", true)
	e := newEngine(l)

	bal, err := e.Licenses.CalculateBalance(context.Background(), 1)
	require.NoError(t, err)
	got, err := e.Restrictions.RestrictionBalances(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, bal.Equal(got["E5:10"]), "want %s got %s", bal, got["E5:10"])
	assert.Equal(t, "560", got["E5:10"].String())
}

func TestRestrictionBalances_ExceptionScenario(t *testing.T) {
	e := newEngine(restrictedLicense(t, "098/2009", ""))
	got, err := e.Restrictions.RestrictionBalances(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "650", got["E5:10"].String())
}

func TestRestrictionBalances_ConversionPurchaseStatus(t *testing.T) {
	e := newEngine(restrictedLicense(t, "019/2015", "CO"))
	got, err := e.Restrictions.RestrictionBalances(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "650", got["E5:10"].String())
}

func TestRestrictionBalances_NotApplicableIsNil(t *testing.T) {
	l := baseLicense(t)
	l.AddLicense(engine.License{ID: 1, NormClasses: []string{"E99"}})
	got, err := newEngine(l).Restrictions.RestrictionBalances(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, ok, err := newEngine(l).Restrictions.CategoryBalance(context.Background(), 1, "E5:10")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestrictionBalances_ConsumptionIsMonotonic(t *testing.T) {
	l := restrictedLicense(t, "019/2015", "")
	e := newEngine(l)
	ctx := context.Background()

	prev, _, err := e.Restrictions.CategoryBalance(ctx, 1, "E5:10")
	require.NoError(t, err)
	for _, v := range []string{"30.00", "40.00", "50.00"} {
		l.AddAllotment(13, "1", v, false)
		next, ok, err := e.Restrictions.CategoryBalance(ctx, 1, "e5:10")
		require.NoError(t, err)
		require.True(t, ok)
		bal, err := e.Licenses.CalculateBalance(ctx, 1)
		require.NoError(t, err)
		assert.True(t, next.LessThanOrEqual(prev), "%s > %s", next, prev)
		assert.True(t, next.LessThanOrEqual(bal))
		assert.False(t, next.IsNegative())
		prev = next
	}
	assert.True(t, prev.IsZero())
}

func TestRestrictionBalances_NeverExceedsLicenseBalance(t *testing.T) {
	l := restrictedLicense(t, "019/2015", "")
	// Untagged consumption drains the license but not the category.
	l.AddDebit(11, "1", "580.00", true)
	got, err := newEngine(l).Restrictions.RestrictionBalances(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "70", got["E5:10"].String())
}

func TestRestrictionBalances_IndependentTiers(t *testing.T) {
	l := enginetest.NewLedger()
	l.AddLicense(engine.License{ID: 5, NormClasses: []string{"E1"}})
	l.AddItem(engine.ImportItem{ID: 51, LicenseId: 5, SerialNumber: 1, CifFc: d("10"), IsRestricted: true,
		Tags: []engine.ClassificationTag{{ID: 2, Name: "SUGAR - E1", RestrictionPercentage: d("3"), NormClass: "E1"}}})
	l.AddItem(engine.ImportItem{ID: 52, LicenseId: 5, SerialNumber: 2, CifFc: d("10"), IsRestricted: true,
		Tags: []engine.ClassificationTag{{ID: 3, Name: "FAT - E1", RestrictionKey: "E1:5"}}})
	l.AddCredit(5, "0", "1000.99")
	l.AddDebit(51, "1", "10.00", true)

	got, err := newEngine(l).Restrictions.RestrictionBalances(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	// round_down(1000.99 * 2%) = 20.01, nothing consumed.
	assert.Equal(t, "20.01", got["E1:2"].String())
	// round_down(1000.99 * 3%) = 30.02, less 10.00 consumed.
	assert.Equal(t, "20.02", got["E1:3"].String())
	assert.Equal(t, "50.04", got["E1:5"].String())
}

func TestCatalog_TagCategory(t *testing.T) {
	c := engine.DefaultCatalog()

	cat, ok := c.TagCategory(engine.ClassificationTag{RestrictionKey: "e132:5"})
	require.True(t, ok)
	assert.Equal(t, "E132", cat.NormClass)
	assert.Equal(t, "5", cat.Percentage.String())

	cat, ok = c.TagCategory(engine.ClassificationTag{RestrictionPercentage: d("7.50"), NormClass: "e5"})
	require.True(t, ok)
	assert.Equal(t, "E5:7.5", cat.Key)

	_, ok = c.TagCategory(engine.ClassificationTag{NormClass: "E5"})
	assert.False(t, ok)

	_, ok = c.TagCategory(engine.ClassificationTag{RestrictionKey: "UNKNOWN"})
	assert.False(t, ok)
}
