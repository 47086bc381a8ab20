package main

import (
	"context"
	"errors"
	"sync"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
	"bitbucket.org/mmdatafocus/dfia_ledger/workflow"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
)

type licenseMutex struct {
	sync.Mutex
	refs int
}

var (
	licenseMutexMap = make(map[int]*licenseMutex)
	globalMutex     = &sync.Mutex{}
)

// lockLicense blocks until this instance holds licenseId and returns the unlock
// func. Entries are dropped once no goroutine holds or waits on them.
func lockLicense(licenseId int) func() {
	globalMutex.Lock()
	mutex, exists := licenseMutexMap[licenseId]
	if !exists {
		mutex = &licenseMutex{}
		licenseMutexMap[licenseId] = mutex
	}
	mutex.refs++
	globalMutex.Unlock()

	mutex.Lock()
	return func() {
		mutex.Unlock()
		globalMutex.Lock()
		defer globalMutex.Unlock()
		mutex.refs--
		if mutex.refs == 0 {
			delete(licenseMutexMap, licenseId)
		}
	}
}

// RunRecomputeSubscriber pulls recompute jobs from the worker subscription until ctx is done.
func RunRecomputeSubscriber(ctx context.Context) error {
	logger := config.GetLogger()
	sub, err := config.RecomputeSubscription(ctx)
	if err != nil {
		return err
	}

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m, err := config.DecodeRecomputeMessage(msg.Data)
		if err != nil {
			config.LogError(logger, "recomputeWorkflow.go", "RunRecomputeSubscriber", "Decoding pubsub message", msg.Data, err)
			msg.Ack()
			return
		}

		// One license at a time per instance; the DB lock covers other instances.
		unlock := lockLicense(m.LicenseId)
		defer unlock()

		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = msg.ID
		}
		ctx = utils.SystemContext(ctx, correlationID)
		if err := ProcessMessage(ctx, logger, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":      "RecomputeWorkflow",
				"license_id": m.LicenseId,
				"record_id":  m.ID,
				"message_id": msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "recomputeWorkflow.go", "RunRecomputeSubscriber", "Failed to receive messages", nil, err)
		}
	}()

	return nil
}

// ProcessMessage recomputes one license and records the outcome on its outbox row.
// A nil return means the message can be acked.
func ProcessMessage(ctx context.Context, logger *logrus.Logger, m config.RecomputeMessage) error {
	markOutboxProcessing(ctx, m.ID)

	_, err := workflow.ProcessRecomputeMessage(ctx, config.GetDB(), logger, m)
	switch {
	case err == nil:
		markOutboxProcessSuccess(ctx, logger, m)
		return nil
	case errors.Is(err, workflow.ErrRecomputeBusy), errors.Is(err, workflow.ErrIdempotencyInProgress):
		// Another worker holds the license; redeliver later without burning an attempt.
		return err
	case errors.Is(err, workflow.ErrPermanent):
		markOutboxProcessDead(ctx, logger, m, err)
		return nil
	default:
		if dead := markOutboxProcessFailure(ctx, logger, m, err); dead {
			return nil
		}
		return err
	}
}
