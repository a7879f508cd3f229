package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	report := domain.Report{
		ID:         "rep-1",
		Source:     "zurich-daily",
		Selector:   domain.PointSelector(47.4, 8.5),
		Season:     domain.SeasonSummer,
		TargetDate: time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC),
		Variables: []domain.VariableResult{
			{Variable: "t_2m:C", Label: "Temperature (°C)", Outcome: domain.OutcomeNoData},
		},
		GeneratedAt: now,
	}

	msg, err := serializeToMessage(report)
	require.NoError(t, err)

	assert.Equal(t, []byte("rep-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"outcome":"no_data"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "source", msg.Headers[0].Key)
	assert.Equal(t, []byte("zurich-daily"), msg.Headers[0].Value)
	assert.Equal(t, "generated_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)

	var decoded domain.Report
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, report.Selector, decoded.Selector)
	assert.Equal(t, report.TargetDate, decoded.TargetDate)
}
