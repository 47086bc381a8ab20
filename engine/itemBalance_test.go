package engine_test

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"bitbucket.org/mmdatafocus/dfia_ledger/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableValue_UnrestrictedItemsShareLicenseBalance(t *testing.T) {
	ctx := context.Background()
	e := newEngine(baseLicense(t))

	bal, err := e.Licenses.CalculateBalance(ctx, 1)
	require.NoError(t, err)
	v1, err := e.Items.AvailableValue(ctx, 11)
	require.NoError(t, err)
	v2, err := e.Items.AvailableValue(ctx, 12)
	require.NoError(t, err)
	assert.True(t, v1.Equal(bal))
	assert.True(t, v2.Equal(bal))
	assert.Equal(t, "650", v1.String())
}

func TestAvailableValue_NominalMarkerShortCircuits(t *testing.T) {
	l := enginetest.NewLedger()
	l.AddLicense(engine.License{ID: 9, NormClasses: []string{"E5"}})
	l.AddItem(engine.ImportItem{ID: 91, LicenseId: 9, SerialNumber: 1, CifFc: d("0.01"), IsRestricted: true,
		Tags: []engine.ClassificationTag{flavouringTag}})
	l.AddItem(engine.ImportItem{ID: 92, LicenseId: 9, SerialNumber: 2, CifFc: d("100"), CifInr: d("0.01")})
	l.AddCredit(9, "0", "50000.00")
	e := newEngine(l)

	for _, id := range []int{91, 92} {
		v, err := e.Items.AvailableValue(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "0.01", v.String())
		b, err := e.Items.BalanceCif(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "0.01", b.String())
	}
}

func TestAvailableValue_RestrictedItemUsesCategory(t *testing.T) {
	e := newEngine(restrictedLicense(t, "019/2015", ""))
	v, err := e.Items.AvailableValue(context.Background(), 13)
	require.NoError(t, err)
	assert.Equal(t, "100", v.String())
}

func TestAvailableValue_RestrictedWithoutCategoryFallsThrough(t *testing.T) {
	l := baseLicense(t)
	// E1 tag on an E5-only license resolves to nothing.
	l.AddItem(engine.ImportItem{ID: 14, LicenseId: 1, SerialNumber: 4, CifFc: d("10"), IsRestricted: true,
		Tags: []engine.ClassificationTag{{ID: 4, Name: "SUGAR - E1", RestrictionPercentage: d("3"), NormClass: "E1"}}})
	l.AddItem(engine.ImportItem{ID: 15, LicenseId: 1, SerialNumber: 5, CifFc: d("10"), IsRestricted: true})

	e := newEngine(l)
	for _, id := range []int{14, 15} {
		v, err := e.Items.AvailableValue(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "650", v.String())
	}
}

func TestAvailableValue_FirstQualifyingTagWins(t *testing.T) {
	l := enginetest.NewLedger()
	l.AddLicense(engine.License{ID: 6, NormClasses: []string{"E1"}})
	l.AddItem(engine.ImportItem{ID: 61, LicenseId: 6, SerialNumber: 1, CifFc: d("10"), IsRestricted: true,
		Tags: []engine.ClassificationTag{
			{ID: 1, Name: "NO PCT"},
			{ID: 2, RestrictionKey: "E1:2"},
			{ID: 3, RestrictionKey: "E1:5"},
		}})
	l.AddCredit(6, "0", "1000.00")

	v, err := newEngine(l).Items.AvailableValue(context.Background(), 61)
	require.NoError(t, err)
	assert.Equal(t, "20", v.String())
}

func TestBalanceCif_ItemCredit(t *testing.T) {
	e := newEngine(baseLicense(t))
	b, err := e.Items.BalanceCif(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, "400", b.String())
	b, err = e.Items.BalanceCif(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, "250", b.String())
}

func TestBalanceCif_ItemCreditFlooredAtZero(t *testing.T) {
	l := baseLicense(t)
	l.AddDebit(12, "1", "500.00", true)
	b, err := newEngine(l).Items.BalanceCif(context.Background(), 12)
	require.NoError(t, err)
	assert.True(t, b.IsZero())
}

func TestBalanceCif_SoleValuedItem(t *testing.T) {
	l := enginetest.NewLedger()
	l.AddLicense(engine.License{ID: 4})
	l.AddItem(engine.ImportItem{ID: 41, LicenseId: 4, SerialNumber: 1, CifFc: d("300")})
	l.AddItem(engine.ImportItem{ID: 42, LicenseId: 4, SerialNumber: 2})
	l.AddItem(engine.ImportItem{ID: 43, LicenseId: 4, SerialNumber: 3})
	l.AddCredit(4, "0", "1000.00")
	l.AddDebit(42, "1", "100.00", true)

	e := newEngine(l)
	b, err := e.Items.BalanceCif(context.Background(), 41)
	require.NoError(t, err)
	assert.Equal(t, "900", b.String())

	// Once a sibling carries value, serial 1 falls back to its own credit.
	l.AddItem(engine.ImportItem{ID: 44, LicenseId: 4, SerialNumber: 4, CifInr: d("5")})
	b, err = e.Items.BalanceCif(context.Background(), 41)
	require.NoError(t, err)
	assert.Equal(t, "300", b.String())
}

func TestBalanceCif_EdgeMarkersUseLicenseBalance(t *testing.T) {
	l := baseLicense(t)
	l.AddItem(engine.ImportItem{ID: 16, LicenseId: 1, SerialNumber: 6, CifFc: d("0.1")})
	l.AddItem(engine.ImportItem{ID: 17, LicenseId: 1, SerialNumber: 7})
	e := newEngine(l)

	for _, id := range []int{16, 17} {
		b, err := e.Items.BalanceCif(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "650", b.String())
	}
}

func TestAvailableQuantity(t *testing.T) {
	l := baseLicense(t)
	l.AddAllotment(11, "90", "1.00", false)
	e := newEngine(l)

	q, err := e.Items.AvailableQuantity(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, "40", q.String())

	q, err = e.Items.AvailableQuantity(context.Background(), 11)
	require.NoError(t, err)
	assert.True(t, q.IsZero())
}

func TestResolveLicense(t *testing.T) {
	e := newEngine(restrictedLicense(t, "019/2015", ""))
	got, err := e.Items.ResolveLicense(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 3)

	byId := map[int]engine.ItemBalance{}
	for _, b := range got {
		byId[b.ItemId] = b
	}
	assert.Equal(t, "shared_pool", byId[11].AvailableStrategy)
	assert.Equal(t, "item_credit", byId[11].BalanceStrategy)
	assert.Equal(t, "80", byId[11].AvailableQuantity.String())
	assert.Equal(t, "200", byId[11].Debited.Value.String())
	assert.Equal(t, "restricted_category", byId[13].AvailableStrategy)
	assert.Equal(t, "100", byId[13].AvailableValue.String())
	assert.Equal(t, "150", byId[12].Allotted.Value.String())
}

func TestResolve_UnknownItem(t *testing.T) {
	_, err := newEngine(baseLicense(t)).Items.Resolve(context.Background(), 999)
	assert.ErrorIs(t, err, engine.ErrImportItemNotFound)
}
