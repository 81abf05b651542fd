package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collect() (*[]Event, Sink) {
	var events []Event
	return &events, SinkFunc(func(e Event) { events = append(events, e) })
}

func TestReporter_PercentNeverDecreases(t *testing.T) {
	events, sink := collect()
	r := NewReporter("run-1", sink, func() time.Time { return fixedNow })

	r.Enter(StageConnecting)
	r.Enter(StagePersistingCarriers)
	r.Enter(StagePersistingAgents)
	r.Warn("carrier batch failed", errors.New("boom"))
	r.Complete(Summary{Facts: 2})

	prev := 0
	for _, e := range *events {
		require.GreaterOrEqual(t, e.Percent, prev)
		require.Equal(t, "run-1", e.RunID)
		require.True(t, e.At.Equal(fixedNow))
		prev = e.Percent
	}
	require.Equal(t, 50, (*events)[2].Percent)
	require.Equal(t, StagePersistingAgents, (*events)[2].Stage)
	require.Equal(t, EventWarning, (*events)[3].Type)
	require.Equal(t, StagePersistingAgents, (*events)[3].Stage)
	require.Equal(t, "boom", (*events)[3].Error)
	require.Equal(t, 1, r.Warnings())
}

func TestReporter_SingleTerminalEvent(t *testing.T) {
	events, sink := collect()
	r := NewReporter("run-1", sink, nil)

	r.Enter(StageResolving)
	require.True(t, r.Fail(errors.New("connection refused")))
	require.False(t, r.Complete(Summary{}))
	require.False(t, r.Fail(errors.New("again")))
	require.False(t, r.Enter(StagePersistingFacts))
	require.True(t, r.Done())

	require.Len(t, *events, 2)
	last := (*events)[1]
	require.Equal(t, EventFailed, last.Type)
	require.Equal(t, StageFailed, last.Stage)
	require.Equal(t, 70, last.Percent)
	require.Equal(t, "connection refused", last.Error)
}

func TestChannelSink_ClosesAfterTerminal(t *testing.T) {
	ch := NewChannelSink(8)
	r := NewReporter("run-1", MultiSink{ch, nil}, nil)

	r.Enter(StageConnecting)
	r.Complete(Summary{Agents: 1})
	r.Enter(StageResolving)

	var got []Event
	for e := range ch.Events() {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	require.Equal(t, EventComplete, got[1].Type)
	require.Equal(t, 100, got[1].Percent)
	require.Equal(t, 1, got[1].Summary.Agents)
}

func TestStage_PercentTable(t *testing.T) {
	order := []Stage{
		StageIdle, StageConnecting, StageExtractingEntities,
		StagePersistingAgents, StagePersistingAccounts, StagePersistingLOBs, StagePersistingCarriers,
		StagePersistingSubjects, StageResolving, StagePersistingFacts, StageComplete,
	}
	for i := 1; i < len(order); i++ {
		require.Greater(t, order[i].Percent(), order[i-1].Percent(), order[i])
	}
	require.True(t, StageFailed.Terminal())
	require.False(t, StageResolving.Terminal())
}
