package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/planwatch/planwatch/internal/policy/ratelimit"
	"github.com/planwatch/planwatch/internal/status"
)

func testBoroughs() []BoroughConfig {
	return []BoroughConfig{
		{Name: "Camden", BaseURL: "https://camden.example", SearchURL: "https://camden.example/search.do", PortalFamily: "idox"},
		{Name: "Westminster", BaseURL: "https://wcc.example", SearchURL: "https://wcc.example/search.do", PortalFamily: "idox"},
		{Name: "Southwark", BaseURL: "https://swk.example", SearchURL: "https://swk.example/search.do", PortalFamily: "cards"},
	}
}

func newTestOrchestrator(store *fakeStore, factory VariantFactory) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Boroughs:    testBoroughs(),
		Keywords:    []string{"monitoring"},
		MaxParallel: 2,
		Factory:     factory,
		Store:       store,
		Pacer:       ratelimit.New(0),
	})
}

func TestOrchestratorScrapeAllCollectsEveryBorough(t *testing.T) {
	store := &fakeStore{}
	factory := func(b BoroughConfig) (PortalVariant, error) {
		if b.Name == "Westminster" {
			return nil, errors.New("portal unreachable")
		}
		return &fakeVariant{}, nil
	}
	o := newTestOrchestrator(store, factory)

	results, err := o.ScrapeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3, "a failed borough still yields a result")

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Borough] = r
	}
	require.True(t, byName["Camden"].Success)
	require.True(t, byName["Southwark"].Success)
	require.False(t, byName["Westminster"].Success)
	require.Contains(t, byName["Westminster"].Error, "portal unreachable")

	snapshot := o.Status()
	require.False(t, snapshot.Running)
	require.Equal(t, 3, snapshot.Total)
	require.Equal(t, 2, snapshot.Completed)
	require.Equal(t, 1, snapshot.Errored)
	require.InDelta(t, 100.0, snapshot.CompletionPct, 0.01)
}

func TestOrchestratorRejectsConcurrentRuns(t *testing.T) {
	store := &fakeStore{}
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	factory := func(BoroughConfig) (PortalVariant, error) {
		return &blockingVariant{started: started, release: release}, nil
	}
	o := newTestOrchestrator(store, factory)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.ScrapeAll(context.Background())
	}()

	<-started
	require.True(t, o.Running())
	_, err := o.ScrapeAll(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = o.ScrapeOne(context.Background(), "Camden")
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	<-done
	require.False(t, o.Running())
}

// blockingVariant parks Search until released. The factory hands the same
// channels to every borough's variant, so started is signaled non-blockingly.
type blockingVariant struct {
	started chan struct{}
	release chan struct{}
}

func (v *blockingVariant) Search(context.Context, string) (SearchResult, error) {
	select {
	case v.started <- struct{}{}:
	default:
	}
	<-v.release
	return SearchResult{Outcome: ListingNoResults, Requests: 2}, nil
}

func (v *blockingVariant) FetchDetail(context.Context, string) (string, error) { return "", nil }
func (v *blockingVariant) Shutdown()                                          {}

func TestOrchestratorStartAllReservesRunSynchronously(t *testing.T) {
	store := &fakeStore{}
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	factory := func(BoroughConfig) (PortalVariant, error) {
		return &blockingVariant{started: started, release: release}, nil
	}
	o := newTestOrchestrator(store, factory)

	require.NoError(t, o.StartAll(context.Background()))
	// the reservation is taken before StartAll returns, so a second start
	// loses immediately even if no worker has begun yet
	require.ErrorIs(t, o.StartAll(context.Background()), ErrAlreadyRunning)
	require.ErrorIs(t, o.StartOne(context.Background(), "Camden"), ErrAlreadyRunning)

	<-started
	close(release)
	require.Eventually(t, func() bool { return !o.Running() }, time.Second, 10*time.Millisecond)
}

func TestOrchestratorStartOneUnknownBorough(t *testing.T) {
	store := &fakeStore{}
	factory := func(BoroughConfig) (PortalVariant, error) {
		return &fakeVariant{}, nil
	}
	o := newTestOrchestrator(store, factory)

	require.ErrorIs(t, o.StartOne(context.Background(), "Hackney"), ErrUnknownBorough)
	require.False(t, o.Running(), "a failed start must not hold the run gate")
}

func TestOrchestratorScrapeOne(t *testing.T) {
	store := &fakeStore{}
	factory := func(BoroughConfig) (PortalVariant, error) {
		return &fakeVariant{
			listings: map[string][]Candidate{
				"monitoring": {{
					ID:        "25/04444/FUL",
					DetailURL: "https://camden.example/d/1",
				}},
			},
			details: map[string]string{
				"https://camden.example/d/1": "noise monitoring condition",
			},
		}, nil
	}
	o := newTestOrchestrator(store, factory)

	result, err := o.ScrapeOne(context.Background(), "Camden")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "Camden", result.Borough)
	require.Equal(t, 1, result.Session.TotalFound)

	_, err = o.ScrapeOne(context.Background(), "Hackney")
	require.Error(t, err)
}

func TestOrchestratorRecoversFromPanic(t *testing.T) {
	store := &fakeStore{}
	factory := func(b BoroughConfig) (PortalVariant, error) {
		if b.Name == "Camden" {
			return &panickyVariant{}, nil
		}
		return &fakeVariant{}, nil
	}
	o := newTestOrchestrator(store, factory)

	results, err := o.ScrapeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Borough] = r
	}
	require.False(t, byName["Camden"].Success)
	require.Contains(t, byName["Camden"].Error, "panic")
	require.True(t, byName["Westminster"].Success)
}

type panickyVariant struct{}

func (v *panickyVariant) Search(context.Context, string) (SearchResult, error) {
	panic("selector exploded")
}

func (v *panickyVariant) FetchDetail(context.Context, string) (string, error) { return "", nil }
func (v *panickyVariant) Shutdown()                                          {}

func TestOrchestratorStop(t *testing.T) {
	store := &fakeStore{}
	factory := func(BoroughConfig) (PortalVariant, error) {
		return &fakeVariant{}, nil
	}
	o := newTestOrchestrator(store, factory)
	o.Stop()

	// a fresh run resets the stop flag
	results, err := o.ScrapeAll(context.Background())
	require.NoError(t, err)
	for _, r := range results {
		require.True(t, r.Success)
	}

	snapshot := o.Status()
	require.Equal(t, 3, snapshot.Completed)
	require.Equal(t, status.StateCompleted, snapshot.Boroughs["Camden"].State)
}
