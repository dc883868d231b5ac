package decisionlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upagent/internal/decision"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGetRecentDecisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	s.nowFn = func() time.Time { return base.Add(3 * time.Hour) }

	for i := 0; i < 4; i++ {
		id, err := s.SaveDecision(ctx, decision.Record{
			TraceID:       "t1",
			InstrumentKey: "NSE_EQ|INE010",
			TradingSymbol: "INFY",
			Action:        "HOLD",
			Confidence:    0.5,
			DecidedAt:     base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.Positive(t, id)
	}
	// 昨天的记录不应出现在当日查询里
	_, err := s.SaveDecision(ctx, decision.Record{
		InstrumentKey: "NSE_EQ|INE010",
		Action:        "BUY",
		DecidedAt:     base.AddDate(0, 0, -1),
	})
	require.NoError(t, err)
	// 其它标的不串
	_, err = s.SaveDecision(ctx, decision.Record{
		InstrumentKey: "NSE_EQ|OTHER",
		Action:        "SELL",
		DecidedAt:     base,
	})
	require.NoError(t, err)

	got, err := s.GetRecentDecisions(ctx, "NSE_EQ|INE010", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	// 时间倒序
	assert.True(t, got[0].DecidedAt.After(got[1].DecidedAt))
	assert.True(t, got[1].DecidedAt.After(got[2].DecidedAt))
	for _, rec := range got {
		assert.Equal(t, "NSE_EQ|INE010", rec.InstrumentKey)
		assert.Equal(t, base.Day(), rec.DecidedAt.Day())
	}
}

func TestGetRecentDecisionsZeroLimit(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRecentDecisions(context.Background(), "NSE_EQ|INE010", 0)
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestListTodaySpansInstruments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.SaveDecision(ctx, decision.Record{
		InstrumentKey: "NSE_EQ|A", Action: "BUY", Approved: true, DecidedAt: now.Add(-2 * time.Minute),
	})
	require.NoError(t, err)
	_, err = s.SaveDecision(ctx, decision.Record{
		InstrumentKey: "NSE_EQ|B", Action: "SELL", RejectReason: "risk rejected", DecidedAt: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	got, err := s.ListToday(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "NSE_EQ|B", got[0].InstrumentKey)
	assert.False(t, got[0].Approved)
	assert.True(t, got[1].Approved)
}

func TestSetDecisionOutcomeUpdatesRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveDecision(ctx, decision.Record{
		InstrumentKey: "NSE_EQ|INE010",
		Action:        "BUY",
		Confidence:    0.9,
		DecidedAt:     time.Now(),
	})
	require.NoError(t, err)
	require.Positive(t, id)

	// 插入时结论未定
	got, err := s.ListToday(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Approved)

	require.NoError(t, s.SetDecisionOutcome(ctx, id, true, ""))
	got, err = s.ListToday(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Approved)
	assert.Empty(t, got[0].RejectReason)

	require.NoError(t, s.SetDecisionOutcome(ctx, id, false, "risk rejected"))
	got, err = s.ListToday(ctx, 0)
	require.NoError(t, err)
	assert.False(t, got[0].Approved)
	assert.Equal(t, "risk rejected", got[0].RejectReason)

	assert.Error(t, s.SetDecisionOutcome(ctx, 0, true, ""))
}
