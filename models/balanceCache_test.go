package models

import (
	"context"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatedCalculator struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
	seen    chan error
}

func newGatedCalculator() *gatedCalculator {
	return &gatedCalculator{
		started: make(chan struct{}),
		release: make(chan struct{}),
		seen:    make(chan error, 2),
	}
}

func (g *gatedCalculator) CalculateBalance(ctx context.Context, licenseId int) (decimal.Decimal, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	g.seen <- ctx.Err()
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(42), nil
}

func TestLicenseBalance_CancelledCallerDoesNotFailOthers(t *testing.T) {
	config.SetRedisDB(nil)
	calc := newGatedCalculator()
	cache := NewBalanceCache(calc, time.Minute, logrus.New())

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.LicenseBalance(first, 9)
		firstErr <- err
	}()
	<-calc.started

	type result struct {
		balance decimal.Decimal
		err     error
	}
	second := make(chan result, 1)
	go func() {
		b, err := cache.LicenseBalance(context.Background(), 9)
		second <- result{b, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(calc.release)
	assert.NoError(t, <-calc.seen, "shared calculation must not inherit the first caller's cancellation")
	r := <-second
	require.NoError(t, r.err)
	assert.Equal(t, "42", r.balance.String())
}

func TestLicenseBalanceVersionKey(t *testing.T) {
	assert.Equal(t, "dfia:license-balance:12", licenseBalanceKey(12))
	assert.Equal(t, "dfia:license-balance-version:12", licenseBalanceVersionKey(12))
}
