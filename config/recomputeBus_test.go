package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecomputePubSubMessage(t *testing.T) {
	m, err := NewRecomputePubSubMessage(RecomputeMessage{ID: 3, LicenseId: 41, Reason: "debit_row_created", CorrelationId: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, "license-41", m.OrderingKey)
	assert.Equal(t, "41", m.Attributes["license_id"])
	assert.Equal(t, "debit_row_created", m.Attributes["reason"])

	decoded, err := DecodeRecomputeMessage(m.Data)
	require.NoError(t, err)
	assert.Equal(t, 3, decoded.ID)
	assert.Equal(t, 41, decoded.LicenseId)

	_, err = NewRecomputePubSubMessage(RecomputeMessage{ID: 3})
	assert.ErrorIs(t, err, ErrInvalidRecomputeMessage)
}

func TestDecodeRecomputeMessageRejectsUnusablePayloads(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "license 7"},
		{name: "missing license", data: `{"id":5,"reason":"manual"}`},
		{name: "negative license", data: `{"license_id":-2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecomputeMessage([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidRecomputeMessage)
		})
	}
}

func TestRecomputeBusSettingsFromEnv(t *testing.T) {
	t.Setenv("PUBSUB_PROJECT_ID", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "dfia-prod")
	t.Setenv("PUBSUB_TOPIC", "")
	t.Setenv("PUBSUB_SUBSCRIPTION", "recompute-eu")
	t.Setenv("PUBSUB_ACK_DEADLINE_SECONDS", "30")

	s := RecomputeBusSettingsFromEnv()
	assert.Equal(t, "dfia-prod", s.ProjectID)
	assert.Equal(t, "dfia-license-recompute", s.Topic)
	assert.Equal(t, "recompute-eu", s.Subscription)
	assert.Equal(t, 30*time.Second, s.AckDeadline)
	assert.True(t, PubSubConfigured())
}
