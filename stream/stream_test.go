package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	s, err := Apply(StateIdle, EventSendHeaders)
	require.NoError(t, err)
	require.Equal(t, StateOpen, s)

	s, err = Apply(s, EventSendEndStream)
	require.NoError(t, err)
	require.Equal(t, StateHalfClosedLocal, s)

	s, err = Apply(s, EventRecvEndStream)
	require.NoError(t, err)
	require.Equal(t, StateClosed, s)
}

func TestStateMachineRejectsIllegalTransition(t *testing.T) {
	_, err := Apply(StateClosed, EventSendHeaders)
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestFlowWindowReserveAndRefill(t *testing.T) {
	w := NewFlowWindow(100)
	require.NoError(t, w.Reserve(100))
	require.ErrorIs(t, w.Reserve(1), ErrWindowExhausted)

	require.NoError(t, w.Consume(150))
	require.EqualValues(t, 150, w.Available())
}

func TestFlowWindowOverflow(t *testing.T) {
	w := NewFlowWindow(MaxWindow)
	require.ErrorIs(t, w.Consume(1), ErrWindowOverflow)
}

func TestFlowWindowTopUp(t *testing.T) {
	w := NewFlowWindow(100)
	require.NoError(t, w.Reserve(60)) // window now 40, below half of 100
	require.True(t, w.NeedsTopUp())
	require.EqualValues(t, 60, w.TopUpAmount())
}

func TestTableInsertGetDel(t *testing.T) {
	tbl := &Table{}
	s1 := New(1, 100, 100)
	s3 := New(3, 100, 100)
	s2 := New(2, 100, 100)
	tbl.Insert(s1)
	tbl.Insert(s3)
	tbl.Insert(s2)

	require.Equal(t, s2, tbl.Get(2))
	require.Equal(t, 3, tbl.Len())

	require.Equal(t, s2, tbl.Del(2))
	require.Nil(t, tbl.Get(2))
	require.Equal(t, 2, tbl.Len())
}

func TestTableSweepReapsPastGraceWindow(t *testing.T) {
	tbl := &Table{}
	s := New(1, 100, 100)
	now := time.Unix(1000, 0)
	require.NoError(t, s.Transition(EventSendHeaders, now))
	require.NoError(t, s.Transition(EventSendEndStream, now))
	require.NoError(t, s.Transition(EventRecvEndStream, now))
	tbl.Insert(s)

	reaped := tbl.Sweep(now.Add(time.Second), time.Minute)
	require.Zero(t, reaped)
	require.Equal(t, 1, tbl.Len())

	reaped = tbl.Sweep(now.Add(2*time.Minute), time.Minute)
	require.Equal(t, 1, reaped)
	require.Zero(t, tbl.Len())
}

func TestWFQSchedulerFavorsHigherWeight(t *testing.T) {
	sched := NewWFQScheduler()
	sched.Ready(1, 255) // effective weight 256
	sched.Ready(2, 0)   // effective weight 1

	counts := map[uint64]int{}
	for i := 0; i < 257; i++ {
		id, ok := sched.Next()
		require.True(t, ok)
		counts[id]++
		sched.Ready(id, map[uint64]uint8{1: 255, 2: 0}[id])
	}
	require.Greater(t, counts[1], counts[2]*50)
}

func TestRoundRobinSchedulerCyclesEvenly(t *testing.T) {
	sched := NewRoundRobinScheduler()
	sched.Ready(1, 0)
	sched.Ready(2, 0)
	sched.Ready(3, 0)

	seen := []uint64{}
	for i := 0; i < 6; i++ {
		id, ok := sched.Next()
		require.True(t, ok)
		seen = append(seen, id)
	}
	require.Equal(t, []uint64{1, 2, 3, 1, 2, 3}, seen)
}
