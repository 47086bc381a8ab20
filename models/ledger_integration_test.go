//go:build integration

package models_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"bitbucket.org/mmdatafocus/dfia_ledger/testutil/containers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

var testActor = models.Actor{UserId: 7, UserName: "tester"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type LedgerIntegrationSuite struct {
	suite.Suite
	mysql *containers.MySQLContainer
	redis *containers.RedisContainer
}

func TestLedgerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerIntegrationSuite))
}

func (s *LedgerIntegrationSuite) SetupSuite() {
	s.mysql = containers.NewMySQLContainer(s.T())
	s.redis = containers.NewRedisContainer(s.T())
	config.SetDB(s.mysql.DB)
	config.SetRedisDB(s.redis.Client)
	s.Require().NoError(models.Migrate(s.mysql.DB))
}

func (s *LedgerIntegrationSuite) TearDownSuite() {
	config.SetRedisDB(nil)
	config.SetDB(nil)
}

func (s *LedgerIntegrationSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.mysql.TruncateTables(ctx,
		"licenses", "export_lines", "classification_tags", "import_lines", "import_line_tags",
		"bill_of_entries", "debit_rows", "allotments", "allotment_lines", "trades", "trade_lines",
		"recompute_job_records", "idempotency_keys",
	))
	s.Require().NoError(s.redis.FlushAll(ctx))
}

type fixture struct {
	license   *models.License
	item      *models.ImportLine
	boe       *models.BillOfEntry
	allotment *models.Allotment
	trade     *models.Trade
}

// newFixture builds credit 1000, debit 200, open allotment 100 and uninvoiced
// sale 50 on one license.
func (s *LedgerIntegrationSuite) newFixture(licenseNumber string) fixture {
	ctx := context.Background()
	license, err := models.CreateLicense(ctx, testActor, &models.NewLicense{
		ExporterId:         1,
		LicenseNumber:      licenseNumber,
		LicenseDate:        time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		NotificationNumber: "025/2015",
	})
	s.Require().NoError(err)
	_, err = models.CreateExportLine(ctx, testActor, &models.NewExportLine{
		LicenseId: license.ID,
		NormClass: "E1",
		Quantity:  d("100"),
		CifFc:     d("1000"),
	})
	s.Require().NoError(err)
	item, err := models.CreateImportLine(ctx, testActor, &models.NewImportLine{
		LicenseId:    license.ID,
		SerialNumber: 1,
		Description:  "Milk powder",
		Quantity:     d("100"),
		CifFc:        d("1000"),
	})
	s.Require().NoError(err)

	boe, err := models.CreateBillOfEntry(ctx, testActor, &models.NewBillOfEntry{
		BillOfEntryNumber: "BOE-" + licenseNumber,
		BillOfEntryDate:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)
	_, err = models.CreateDebitRow(ctx, testActor, &models.NewDebitRow{
		BillOfEntryId: boe.ID, ImportLineId: item.ID, Quantity: d("20"), CifFc: d("200"),
	})
	s.Require().NoError(err)

	allotment, err := models.CreateAllotment(ctx, testActor, &models.NewAllotment{CompanyName: "Acme"})
	s.Require().NoError(err)
	_, err = models.CreateAllotmentLine(ctx, testActor, &models.NewAllotmentLine{
		AllotmentId: allotment.ID, ImportLineId: item.ID, Quantity: d("10"), CifFc: d("100"),
	})
	s.Require().NoError(err)

	trade, err := models.CreateTrade(ctx, testActor, &models.NewTrade{
		Direction: models.TradeDirectionSale, PartyName: "Buyer", TradeDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)
	_, err = models.CreateTradeLine(ctx, testActor, &models.NewTradeLine{
		TradeId: trade.ID, ImportLineId: item.ID, Quantity: d("5"), CifFc: d("50"),
	})
	s.Require().NoError(err)

	return fixture{license: license, item: item, boe: boe, allotment: allotment, trade: trade}
}

func (s *LedgerIntegrationSuite) balance(licenseId int) decimal.Decimal {
	eng := engine.New(models.NewGormLedger(config.GetDB()), engine.Options{})
	b, err := eng.Licenses.CalculateBalance(context.Background(), licenseId)
	s.Require().NoError(err)
	return b
}

func (s *LedgerIntegrationSuite) TestBalanceCountsOnlyOpenRows() {
	ctx := context.Background()
	f := s.newFixture("L-OPEN")
	s.Equal("650", s.balance(f.license.ID).String())

	// A credit-type correction row never reduces the balance.
	_, err := models.CreateDebitRow(ctx, testActor, &models.NewDebitRow{
		BillOfEntryId: f.boe.ID, ImportLineId: f.item.ID,
		TransactionType: models.TransactionTypeCredit, Quantity: d("1"), CifFc: d("999"),
	})
	s.Require().NoError(err)
	s.Equal("650", s.balance(f.license.ID).String())

	_, err = models.SettleAllotment(ctx, testActor, f.allotment.ID, f.boe.ID)
	s.Require().NoError(err)
	s.Equal("750", s.balance(f.license.ID).String())

	_, err = models.SetTradeInvoice(ctx, testActor, f.trade.ID, f.boe.ID, "INV-1")
	s.Require().NoError(err)
	s.Equal("800", s.balance(f.license.ID).String())
}

func (s *LedgerIntegrationSuite) TestSettledAllotmentRejectsNewLines() {
	ctx := context.Background()
	f := s.newFixture("L-SETTLED")
	_, err := models.SettleAllotment(ctx, testActor, f.allotment.ID, f.boe.ID)
	s.Require().NoError(err)

	_, err = models.CreateAllotmentLine(ctx, testActor, &models.NewAllotmentLine{
		AllotmentId: f.allotment.ID, ImportLineId: f.item.ID, CifFc: d("1"),
	})
	s.ErrorIs(err, models.ErrAllotmentSettled)
}

func (s *LedgerIntegrationSuite) TestItemScopeSums() {
	ctx := context.Background()
	f := s.newFixture("L-SCOPE")
	other, err := models.CreateImportLine(ctx, testActor, &models.NewImportLine{
		LicenseId: f.license.ID, SerialNumber: 2, CifFc: d("300"),
	})
	s.Require().NoError(err)
	_, err = models.CreateDebitRow(ctx, testActor, &models.NewDebitRow{
		BillOfEntryId: f.boe.ID, ImportLineId: other.ID, Quantity: d("3"), CifFc: d("30"),
	})
	s.Require().NoError(err)

	ledger := models.NewGormLedger(config.GetDB())
	raw, err := ledger.DebitTotals(ctx, engine.ItemScope(f.license.ID, other.ID))
	s.Require().NoError(err)
	s.Equal("30", engine.OrZero(raw.Value).String())

	raw, err = ledger.DebitTotals(ctx, engine.LicenseScope(f.license.ID))
	s.Require().NoError(err)
	s.Equal("230", engine.OrZero(raw.Value).String())

	raw, err = ledger.AllotmentTotals(ctx, engine.ItemScope(f.license.ID, other.ID))
	s.Require().NoError(err)
	s.False(raw.Value.Valid)
}

func (s *LedgerIntegrationSuite) TestTagOrderIsPreserved() {
	ctx := context.Background()
	f := s.newFixture("L-TAGS")
	first, err := models.CreateClassificationTag(ctx, testActor, &models.NewClassificationTag{
		Name: "Juice", NormClass: "E1", RestrictionPercentage: d("2"),
	})
	s.Require().NoError(err)
	second, err := models.CreateClassificationTag(ctx, testActor, &models.NewClassificationTag{
		Name: "Milk", NormClass: "E1", RestrictionPercentage: d("3"),
	})
	s.Require().NoError(err)

	_, err = models.SetImportLineTags(ctx, testActor, f.item.ID, []int{second.ID, first.ID})
	s.Require().NoError(err)

	item, err := models.NewGormLedger(config.GetDB()).ImportItem(ctx, f.item.ID)
	s.Require().NoError(err)
	s.Require().Len(item.Tags, 2)
	s.Equal("Milk", item.Tags[0].Name)
	s.Equal("Juice", item.Tags[1].Name)

	license, err := models.NewGormLedger(config.GetDB()).License(ctx, f.license.ID)
	s.Require().NoError(err)
	s.Equal([]string{"E1"}, license.NormClasses)
}

func (s *LedgerIntegrationSuite) TestMutationsEnqueueRecomputeJobs() {
	ctx := context.Background()
	f := s.newFixture("L-JOBS")

	var jobs []models.RecomputeJobRecord
	s.Require().NoError(config.GetDB().Where("license_id = ?", f.license.ID).Order("id").Find(&jobs).Error)
	reasons := make([]string, 0, len(jobs))
	for _, j := range jobs {
		reasons = append(reasons, j.Reason)
		s.Equal(models.OutboxPublishStatusPending, j.PublishStatus)
		s.False(j.IsProcessed)
	}
	s.Equal([]string{
		models.RecomputeReasonLicenseCreated,
		models.RecomputeReasonExportLineCreated,
		models.RecomputeReasonImportLineCreated,
		models.RecomputeReasonDebitRowCreated,
		models.RecomputeReasonAllotmentCreated,
		models.RecomputeReasonTradeLineCreated,
	}, reasons)

	status, err := models.GetRecomputeJobStatus(ctx, f.license.ID)
	s.Require().NoError(err)
	s.Equal(models.RecomputeReasonTradeLineCreated, status.Reason)
	s.Equal(models.OutboxProcessStatusPending, status.ProcessingStatus)
}

func (s *LedgerIntegrationSuite) TestFailedMutationEnqueuesNothing() {
	ctx := context.Background()
	f := s.newFixture("L-DUP")
	before := s.jobCount(f.license.ID)

	_, err := models.CreateImportLine(ctx, testActor, &models.NewImportLine{
		LicenseId: f.license.ID, SerialNumber: 1, CifFc: d("1"),
	})
	s.ErrorIs(err, models.ErrDuplicateSerialNumber)
	s.Equal(before, s.jobCount(f.license.ID))
}

func (s *LedgerIntegrationSuite) TestReprocessResetsDeadJobs() {
	ctx := context.Background()
	f := s.newFixture("L-DEAD")
	s.Require().NoError(config.GetDB().Model(&models.RecomputeJobRecord{}).
		Where("license_id = ?", f.license.ID).
		Updates(map[string]interface{}{"publish_status": models.OutboxPublishStatusDead, "publish_attempts": 25}).Error)

	n, err := models.ReprocessRecomputeJobs(ctx, 0)
	s.Require().NoError(err)
	s.Equal(s.jobCount(f.license.ID), n)

	status, err := models.GetRecomputeJobStatus(ctx, f.license.ID)
	s.Require().NoError(err)
	s.Equal(models.OutboxPublishStatusPending, status.PublishStatus)
	s.Zero(status.PublishAttempts)
}

func (s *LedgerIntegrationSuite) TestBalanceCacheIsEvictedByMutations() {
	ctx := context.Background()
	f := s.newFixture("L-CACHE")
	eng := engine.New(models.NewGormLedger(config.GetDB()), engine.Options{})
	cache := models.NewBalanceCache(eng.Licenses, time.Minute, nil)

	b, err := cache.LicenseBalance(ctx, f.license.ID)
	s.Require().NoError(err)
	s.Equal("650", b.String())
	keys, err := s.redis.Client.Keys(ctx, "dfia:license-balance:*").Result()
	s.Require().NoError(err)
	s.Len(keys, 1)

	_, err = models.CreateDebitRow(ctx, testActor, &models.NewDebitRow{
		BillOfEntryId: f.boe.ID, ImportLineId: f.item.ID, Quantity: d("10"), CifFc: d("100"),
	})
	s.Require().NoError(err)
	keys, err = s.redis.Client.Keys(ctx, "dfia:license-balance:*").Result()
	s.Require().NoError(err)
	s.Empty(keys)

	b, err = cache.LicenseBalance(ctx, f.license.ID)
	s.Require().NoError(err)
	s.Equal("550", b.String())
}

func (s *LedgerIntegrationSuite) TestInvoiceOnSharedBillOfEntryRecomputesEveryLicense() {
	ctx := context.Background()
	a := s.newFixture("L-SHARED-A")
	b := s.newFixture("L-SHARED-B")
	eng := engine.New(models.NewGormLedger(config.GetDB()), engine.Options{})
	cache := models.NewBalanceCache(eng.Licenses, time.Minute, nil)

	// b's sale ships on a's BOE, still without an invoice.
	_, err := models.SetTradeInvoice(ctx, testActor, b.trade.ID, a.boe.ID, "")
	s.Require().NoError(err)
	bal, err := cache.LicenseBalance(ctx, b.license.ID)
	s.Require().NoError(err)
	s.Equal("650", bal.String())
	before := s.jobCount(b.license.ID)

	_, err = models.SetTradeInvoice(ctx, testActor, a.trade.ID, a.boe.ID, "INV-SHARED")
	s.Require().NoError(err)

	s.Equal(before+1, s.jobCount(b.license.ID))
	status, err := models.GetRecomputeJobStatus(ctx, b.license.ID)
	s.Require().NoError(err)
	s.Equal(models.RecomputeReasonTradeInvoiced, status.Reason)

	n, err := s.redis.Client.Exists(ctx, fmt.Sprintf("dfia:license-balance:%d", b.license.ID)).Result()
	s.Require().NoError(err)
	s.Zero(n)

	bal, err = cache.LicenseBalance(ctx, b.license.ID)
	s.Require().NoError(err)
	s.Equal("700", bal.String())
}

// evictingCalculator commits an eviction while the balance is being computed,
// the way a concurrent ledger mutation would.
type evictingCalculator struct {
	inner models.BalanceCalculator
}

func (c evictingCalculator) CalculateBalance(ctx context.Context, licenseId int) (decimal.Decimal, error) {
	b, err := c.inner.CalculateBalance(ctx, licenseId)
	if err != nil {
		return b, err
	}
	return b, models.InvalidateLicenseBalances(ctx, licenseId)
}

func (s *LedgerIntegrationSuite) TestBalanceEvictedMidCalculationIsNotCached() {
	ctx := context.Background()
	f := s.newFixture("L-STALE")
	eng := engine.New(models.NewGormLedger(config.GetDB()), engine.Options{})
	key := fmt.Sprintf("dfia:license-balance:%d", f.license.ID)

	racing := models.NewBalanceCache(evictingCalculator{inner: eng.Licenses}, time.Minute, nil)
	b, err := racing.LicenseBalance(ctx, f.license.ID)
	s.Require().NoError(err)
	s.Equal("650", b.String())
	n, err := s.redis.Client.Exists(ctx, key).Result()
	s.Require().NoError(err)
	s.Zero(n)

	// With no eviction in between, the next read caches normally.
	cache := models.NewBalanceCache(eng.Licenses, time.Minute, nil)
	_, err = cache.LicenseBalance(ctx, f.license.ID)
	s.Require().NoError(err)
	n, err = s.redis.Client.Exists(ctx, key).Result()
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *LedgerIntegrationSuite) jobCount(licenseId int) int64 {
	var n int64
	s.Require().NoError(config.GetDB().Model(&models.RecomputeJobRecord{}).Where("license_id = ?", licenseId).Count(&n).Error)
	return n
}
