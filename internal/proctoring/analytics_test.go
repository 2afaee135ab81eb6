package proctoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAnalyticsTimeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, candidate)

	at := func(d time.Duration) *time.Time { ts := t0.Add(d); return &ts }
	f.clk.Advance(5 * time.Minute)
	_, err := f.svc.LogMultipleViolations(ctx, candidate, id, []ViolationInput{
		{Type: "tab_switch", Timestamp: at(10 * time.Second)},
		{Type: "tab_switch", Timestamp: at(2*time.Minute + 5*time.Second)},
		{Type: "copy", Timestamp: at(2*time.Minute + 40*time.Second)},
		{Type: "devtools_open", Timestamp: at(2*time.Minute + 50*time.Second)},
	})
	require.NoError(t, err)

	a, err := f.svc.GetSessionAnalytics(ctx, candidate, id)
	require.NoError(t, err)
	assert.Equal(t, 4, a.TotalViolations)
	assert.Equal(t, 24, a.TotalPenalty)
	assert.Equal(t, 76.0, a.IntegrityScore)
	assert.Equal(t, map[string]int{"low": 0, "medium": 3, "high": 1}, a.SeverityDistribution)
	assert.Equal(t, map[string]int{"tab_switch": 2, "copy": 1, "devtools_open": 1}, a.ViolationsByType)
	require.Len(t, a.Timeline, 2)
	assert.Equal(t, 0, a.Timeline[0].Offset)
	assert.Equal(t, 1, a.Timeline[0].Count)
	assert.Equal(t, 2, a.Timeline[1].Offset)
	assert.Equal(t, 3, a.Timeline[1].Count)
	assert.Equal(t, 19, a.Timeline[1].Penalty)
	require.NotNil(t, a.PeakMinute)
	assert.Equal(t, t0.Add(2*time.Minute), *a.PeakMinute)
	assert.Equal(t, 3, a.PeakCount)
	assert.Equal(t, int64(300), a.ElapsedSeconds)
}

func TestSessionAnalyticsEmpty(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, candidate)
	a, err := f.svc.GetSessionAnalytics(context.Background(), candidate, id)
	require.NoError(t, err)
	assert.Empty(t, a.Timeline)
	assert.Nil(t, a.PeakMinute)
	assert.Equal(t, 100.0, a.IntegrityScore)
	assert.Equal(t, map[string]int{"low": 0, "medium": 0, "high": 0}, a.SeverityDistribution)
}

func TestSessionRisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, candidate)

	r, err := f.svc.GetSessionRisk(ctx, candidate, id)
	require.NoError(t, err)
	assert.Equal(t, RiskLow, r.RiskLevel)
	assert.Empty(t, r.Flags)

	_, err = f.svc.LogMultipleViolations(ctx, candidate, id, []ViolationInput{
		{Type: "multiple_faces"}, {Type: "tab_switch"}, {Type: "tab_switch"}, {Type: "tab_switch"},
		{Type: "forbidden_object"},
	})
	require.NoError(t, err)

	r, err = f.svc.GetSessionRisk(ctx, candidate, id)
	require.NoError(t, err)
	assert.Equal(t, 65.0, r.IntegrityScore)
	assert.Equal(t, RiskMedium, r.RiskLevel)
	assert.Equal(t, 2, r.HighSeverityCount)
	assert.Equal(t, []string{FlagMultiplePeople, FlagRepeatedTabSwitch, FlagAssistanceSuspect}, r.Flags)

	_, err = f.svc.LogMultipleViolations(ctx, candidate, id, []ViolationInput{
		{Type: "devtools_open"}, {Type: "devtools_open"},
	})
	require.NoError(t, err)
	r, err = f.svc.GetSessionRisk(ctx, candidate, id)
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, r.RiskLevel)
}

func TestRiskLevelBoundaries(t *testing.T) {
	assert.Equal(t, RiskLow, riskLevel(75))
	assert.Equal(t, RiskMedium, riskLevel(74.9))
	assert.Equal(t, RiskMedium, riskLevel(50))
	assert.Equal(t, RiskHigh, riskLevel(49))
}
