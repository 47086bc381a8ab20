//go:build integration

package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/engine"
	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"bitbucket.org/mmdatafocus/dfia_ledger/testutil/containers"
	"bitbucket.org/mmdatafocus/dfia_ledger/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

var actor = models.Actor{UserId: 1, UserName: "tester"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type WorkflowSuite struct {
	suite.Suite
	mysql *containers.MySQLContainer
	redis *containers.RedisContainer
}

func TestWorkflowSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupSuite() {
	s.mysql = containers.NewMySQLContainer(s.T())
	s.redis = containers.NewRedisContainer(s.T())
	config.SetDB(s.mysql.DB)
	config.SetRedisDB(s.redis.Client)
	s.Require().NoError(models.Migrate(s.mysql.DB))
}

func (s *WorkflowSuite) TearDownSuite() {
	config.SetRedisDB(nil)
	config.SetDB(nil)
}

func (s *WorkflowSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.mysql.TruncateTables(ctx,
		"licenses", "export_lines", "classification_tags", "import_lines", "import_line_tags",
		"bill_of_entries", "debit_rows", "allotments", "allotment_lines", "trades", "trade_lines",
		"recompute_job_records", "idempotency_keys",
	))
	s.Require().NoError(s.redis.FlushAll(ctx))
}

// seed creates a 1000 credit license with one 700 and one 300 item; the first
// item is debited 200.
func (s *WorkflowSuite) seed(number string) (*models.License, *models.ImportLine, *models.ImportLine) {
	ctx := context.Background()
	expiry := time.Now().UTC().AddDate(0, 0, -3)
	license, err := models.CreateLicense(ctx, actor, &models.NewLicense{
		ExporterId: 1, LicenseNumber: number, LicenseDate: time.Now().UTC().AddDate(-1, 0, 0), ExpiryDate: &expiry,
	})
	s.Require().NoError(err)
	_, err = models.CreateExportLine(ctx, actor, &models.NewExportLine{LicenseId: license.ID, NormClass: "E5", CifFc: d("1000")})
	s.Require().NoError(err)
	first, err := models.CreateImportLine(ctx, actor, &models.NewImportLine{
		LicenseId: license.ID, SerialNumber: 1, Quantity: d("70"), CifFc: d("700"),
	})
	s.Require().NoError(err)
	second, err := models.CreateImportLine(ctx, actor, &models.NewImportLine{
		LicenseId: license.ID, SerialNumber: 2, Quantity: d("30"), CifFc: d("300"),
	})
	s.Require().NoError(err)
	boe, err := models.CreateBillOfEntry(ctx, actor, &models.NewBillOfEntry{
		BillOfEntryNumber: "BOE-" + number, BillOfEntryDate: time.Now().UTC(),
	})
	s.Require().NoError(err)
	_, err = models.CreateDebitRow(ctx, actor, &models.NewDebitRow{
		BillOfEntryId: boe.ID, ImportLineId: first.ID, Quantity: d("20"), CifFc: d("200"),
	})
	s.Require().NoError(err)
	return license, first, second
}

func (s *WorkflowSuite) latestJob(licenseId int) models.RecomputeJobRecord {
	var rec models.RecomputeJobRecord
	s.Require().NoError(config.GetDB().Where("license_id = ?", licenseId).Order("id DESC").First(&rec).Error)
	return rec
}

func (s *WorkflowSuite) TestRecomputeWritesCachedFields() {
	ctx := context.Background()
	license, first, second := s.seed("L-RECOMPUTE")

	var res *workflow.RecomputeResult
	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = workflow.RecomputeLicense(ctx, tx, config.GetLogger(), config.GetEngineSettings(), license.ID)
		return err
	})
	s.Require().NoError(err)
	s.Equal("800", res.BalanceCif.String())
	s.False(res.IsNull)
	s.True(res.IsExpired)
	s.Equal(2, res.Items)

	stored, err := models.GetLicense(ctx, license.ID)
	s.Require().NoError(err)
	s.Equal("800", stored.BalanceCif.String())
	s.True(stored.IsExpired)
	s.NotNil(stored.RecomputedAt)

	lines, err := models.GetImportLines(ctx, license.ID)
	s.Require().NoError(err)
	s.Require().Len(lines, 2)
	s.Equal(first.ID, lines[0].ID)
	s.Equal("200", lines[0].DebitedValue.String())
	s.Equal("20", lines[0].DebitedQuantity.String())
	s.Equal("50", lines[0].AvailableQuantity.String())
	s.Equal("800", lines[0].AvailableValue.String())
	s.Equal("500", lines[0].BalanceCif.String())
	s.Equal(second.ID, lines[1].ID)
	s.Equal("800", lines[1].AvailableValue.String())
	s.Equal("300", lines[1].BalanceCif.String())
}

func (s *WorkflowSuite) TestRecomputeIsIdempotent() {
	ctx := context.Background()
	license, _, _ := s.seed("L-TWICE")
	run := func() models.License {
		s.Require().NoError(config.GetDB().Transaction(func(tx *gorm.DB) error {
			_, err := workflow.RecomputeLicense(ctx, tx, nil, config.GetEngineSettings(), license.ID)
			return err
		}))
		stored, err := models.GetLicense(ctx, license.ID)
		s.Require().NoError(err)
		return *stored
	}
	a, b := run(), run()
	s.Equal(a.BalanceCif.String(), b.BalanceCif.String())
	s.Equal(a.IsNull, b.IsNull)
	s.Equal(a.IsExpired, b.IsExpired)
}

func (s *WorkflowSuite) TestProcessMessageSettlesEarlierJobsAndSkipsRedelivery() {
	ctx := context.Background()
	license, _, _ := s.seed("L-PROCESS")
	job := s.latestJob(license.ID)

	res, err := workflow.ProcessRecomputeMessage(ctx, config.GetDB(), config.GetLogger(), models.ConvertToRecomputeMessage(job))
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal("800", res.BalanceCif.String())

	var open int64
	s.Require().NoError(config.GetDB().Model(&models.RecomputeJobRecord{}).
		Where("license_id = ? AND is_processed = 0", license.ID).Count(&open).Error)
	s.Zero(open)

	var key models.IdempotencyKey
	s.Require().NoError(config.GetDB().Where("handler_name = ?", workflow.RecomputeHandlerName).First(&key).Error)
	s.Equal(models.IdempotencyStatusSucceeded, key.Status)
	s.Equal(license.ID, key.LicenseId)

	res, err = workflow.ProcessRecomputeMessage(ctx, config.GetDB(), config.GetLogger(), models.ConvertToRecomputeMessage(job))
	s.Require().NoError(err)
	s.Nil(res)
}

func (s *WorkflowSuite) TestProcessMessageForMissingLicenseIsPermanent() {
	_, err := workflow.ProcessRecomputeMessage(context.Background(), config.GetDB(), nil, config.RecomputeMessage{LicenseId: 999999})
	s.Require().Error(err)
	s.True(errors.Is(err, workflow.ErrPermanent))
	s.True(errors.Is(err, engine.ErrLicenseNotFound))
}

func (s *WorkflowSuite) TestIdempotencyInProgress() {
	db := config.GetDB()
	skip, err := workflow.BeginIdempotency(db, "h", "m-1", 1)
	s.Require().NoError(err)
	s.False(skip)

	_, err = workflow.BeginIdempotency(db, "h", "m-1", 1)
	s.ErrorIs(err, workflow.ErrIdempotencyInProgress)

	s.Require().NoError(workflow.MarkIdempotencyFailed(db, "h", "m-1", errors.New("boom")))
	skip, err = workflow.BeginIdempotency(db, "h", "m-1", 1)
	s.Require().NoError(err)
	s.False(skip)

	s.Require().NoError(workflow.MarkIdempotencySucceeded(db, "h", "m-1"))
	skip, err = workflow.BeginIdempotency(db, "h", "m-1", 1)
	s.Require().NoError(err)
	s.True(skip)
}

func (s *WorkflowSuite) TestDispatcherPublishesOnlyNewestJobPerLicense() {
	ctx := context.Background()
	first, _, _ := s.seed("L-COALESCE-1")
	second, _, _ := s.seed("L-COALESCE-2")
	newestFirst := s.latestJob(first.ID)
	newestSecond := s.latestJob(second.ID)

	published := map[int]int{}
	dispatcher := workflow.NewOutboxDispatcher(config.GetDB(), config.GetLogger())
	dispatcher.Publish = func(_ context.Context, msg config.RecomputeMessage) (string, error) {
		published[msg.LicenseId] = msg.ID
		return "pub-" + msg.Reason, nil
	}
	s.Equal(2, dispatcher.DispatchOnce(ctx))
	s.Equal(map[int]int{first.ID: newestFirst.ID, second.ID: newestSecond.ID}, published)

	var jobs []models.RecomputeJobRecord
	s.Require().NoError(config.GetDB().Where("license_id IN ?", []int{first.ID, second.ID}).Find(&jobs).Error)
	s.Greater(len(jobs), 2)
	for _, j := range jobs {
		if j.ID == newestFirst.ID || j.ID == newestSecond.ID {
			s.Equal(models.OutboxPublishStatusSent, j.PublishStatus)
			s.False(j.IsProcessed)
			continue
		}
		s.Equal(models.OutboxPublishStatusSuperseded, j.PublishStatus, "job %d", j.ID)
		s.True(j.IsProcessed)
		s.Equal(models.OutboxProcessStatusSucceeded, j.ProcessingStatus)
		s.Zero(j.PublishAttempts)
	}

	// Nothing left to claim.
	s.Zero(dispatcher.DispatchOnce(ctx))
}

func (s *WorkflowSuite) TestDispatcherPublishesAndBacksOff() {
	ctx := context.Background()
	license, _, _ := s.seed("L-DISPATCH")

	var sent []config.RecomputeMessage
	dispatcher := workflow.NewOutboxDispatcher(config.GetDB(), config.GetLogger())
	dispatcher.Publish = func(_ context.Context, msg config.RecomputeMessage) (string, error) {
		sent = append(sent, msg)
		return "pub-1", nil
	}
	s.Equal(1, dispatcher.DispatchOnce(ctx))

	s.Require().Len(sent, 1)
	s.Equal(license.ID, sent[0].LicenseId)
	s.NotEmpty(sent[0].CorrelationId)
	s.Equal(models.OutboxPublishStatusSent, s.latestJob(license.ID).PublishStatus)

	_, err := models.CreateImportLine(ctx, actor, &models.NewImportLine{LicenseId: license.ID, SerialNumber: 3, CifFc: d("1")})
	s.Require().NoError(err)
	dispatcher.Publish = func(context.Context, config.RecomputeMessage) (string, error) {
		return "", errors.New("pubsub unavailable")
	}
	dispatcher.DispatchOnce(ctx)

	failed := s.latestJob(license.ID)
	s.Equal(models.OutboxPublishStatusFailed, failed.PublishStatus)
	s.Equal(1, failed.PublishAttempts)
	s.Require().NotNil(failed.NextAttemptAt)
	s.True(failed.NextAttemptAt.After(time.Now().UTC()))
	s.Require().NotNil(failed.LastPublishError)
	s.Contains(*failed.LastPublishError, "pubsub unavailable")
}
