package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"github.com/stretchr/testify/assert"
)

func TestNewestJobPerLicense(t *testing.T) {
	jobs := []models.RecomputeJobRecord{
		{ID: 3, LicenseId: 10},
		{ID: 4, LicenseId: 20},
		{ID: 7, LicenseId: 10},
		{ID: 8, LicenseId: 30},
		{ID: 9, LicenseId: 10},
		{ID: 12, LicenseId: 20},
	}

	newest, superseded := newestJobPerLicense(jobs)

	ids := make([]int, 0, len(newest))
	for _, j := range newest {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []int{8, 9, 12}, ids)
	assert.Equal(t, []int{3, 4, 7}, superseded)
}

func TestNewestJobPerLicense_Empty(t *testing.T) {
	newest, superseded := newestJobPerLicense(nil)
	assert.Empty(t, newest)
	assert.Empty(t, superseded)
}

func TestPublishBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 5 * time.Second},
		{attempt: 1, want: 5 * time.Second},
		{attempt: 2, want: 10 * time.Second},
		{attempt: 4, want: 40 * time.Second},
		{attempt: 8, want: 10 * time.Minute},
		{attempt: 60, want: 10 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, publishBackoff(tt.attempt, 5*time.Second), "attempt %d", tt.attempt)
	}
}
