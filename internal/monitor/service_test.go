package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsense/internal/config"
	"finsense/internal/pipeline"
	"finsense/internal/portfolio"
	"finsense/internal/risk"
	"finsense/internal/sentiment"
	"finsense/internal/store"
)

var (
	_ pipeline.Recorder          = (*Service)(nil)
	_ sentiment.SnapshotRecorder = (*Service)(nil)
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(context.Background(), st, nil)
	require.NoError(t, err)
	return svc
}

func TestRecordAdvice_WritesAlertsEvent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	out := pipeline.Output{
		Status:     pipeline.StatusOK,
		RunID:      "run-7",
		Allocation: portfolio.Allocation{Equities: 0.85, Bonds: 0.12, Cash: 0.03},
		Alerts:     []risk.Alert{{Type: risk.AlertEquityConcentration, Severity: risk.SeverityMedium}},
	}
	svc.RecordAdvice(ctx, pipeline.Request{}, out)

	events, err := svc.ListEvents(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventAlerts, events[0].Type)
	assert.Equal(t, EventRecommendation, events[1].Type)
	assert.Greater(t, events[0].ID, events[1].ID)

	var payload AlertsPayload
	require.NoError(t, json.Unmarshal(events[0].Payload.(json.RawMessage), &payload))
	assert.Equal(t, "run-7", payload.RunID)
	assert.Equal(t, "recommend", payload.Source)
	require.Len(t, payload.Alerts, 1)
}

func TestListEvents_FilterAndLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordAdvice(ctx, pipeline.Request{}, pipeline.Output{RunID: "a"})
	svc.RecordError(ctx, "失败", errors.New("boom"), map[string]interface{}{"stage": "allocate"})
	svc.RecordAlerts(ctx, "", "api", nil)
	require.NoError(t, svc.RecordSentiment(ctx, sentiment.Snapshot{Day: "2025-10-01", Label: portfolio.SentimentBullish}))

	errs, err := svc.ListEvents(ctx, EventError, 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Payload.(json.RawMessage), &payload))
	assert.Equal(t, "boom", payload.Error)
	assert.Equal(t, "allocate", payload.Context["stage"])

	all, err := svc.ListEvents(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, EventSentimentSnapshot, all[0].Type)

	none, err := svc.ListEvents(ctx, EventAlerts, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecord_RejectsUnknownType(t *testing.T) {
	svc := newTestService(t)
	err := svc.Record(context.Background(), Event{Type: "ai_decision", Payload: struct{}{}})
	assert.Error(t, err)
}
