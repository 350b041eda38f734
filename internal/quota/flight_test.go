package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinFlightLeaderElection(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	f1, leader1 := m.JoinFlight("fixtures:date=2026-08-24")
	require.True(t, leader1)

	f2, leader2 := m.JoinFlight("fixtures:date=2026-08-24")
	assert.False(t, leader2)
	assert.Same(t, f1, f2, "followers must share the leader's flight")

	// a different fingerprint gets its own flight
	_, leader3 := m.JoinFlight("fixtures:date=2026-08-25")
	assert.True(t, leader3)
	assert.Equal(t, 2, m.InFlightCount())
}

func TestCompleteFlightReleasesWaitersAndClearsEntry(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	f, leader := m.JoinFlight("odds:fixture=99")
	require.True(t, leader)

	const waiters = 8
	var wg sync.WaitGroup
	results := make([][]byte, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Wait(context.Background())
		}(i)
	}

	m.CompleteFlight("odds:fixture=99", f, []byte(`{"odds":[]}`), nil)
	wg.Wait()

	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, `{"odds":[]}`, string(results[i]))
	}
	assert.Zero(t, m.InFlightCount(), "entry must be removed after completion")

	// the next caller starts fresh rather than replaying the old outcome
	_, leader = m.JoinFlight("odds:fixture=99")
	assert.True(t, leader)
}

func TestCompleteFlightPropagatesFailureOnce(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	f, _ := m.JoinFlight("livescores:")
	boom := errors.New("upstream exploded")
	m.CompleteFlight("livescores:", f, nil, boom)

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.InFlightCount())
}

func TestFlightWaitRespectsContext(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	f, _ := m.JoinFlight("standings:")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInFlightRegistryPrimitives(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	_, ok := m.GetInFlight("k")
	assert.False(t, ok)

	f := newFlight()
	m.SetInFlight("k", f)
	got, ok := m.GetInFlight("k")
	require.True(t, ok)
	assert.Same(t, f, got)

	m.RemoveInFlight("k")
	_, ok = m.GetInFlight("k")
	assert.False(t, ok)
}
