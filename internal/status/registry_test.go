package status

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryInitializesBoroughs(t *testing.T) {
	r := NewRegistry([]string{"Camden", "Westminster"}, nil)

	st, ok := r.Get("Camden")
	require.True(t, ok)
	require.Equal(t, StateInitialized, st.State)

	_, ok = r.Get("Hackney")
	require.False(t, ok)

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)
}

func TestRegistryUpdateReturnsCopies(t *testing.T) {
	r := NewRegistry([]string{"Camden"}, nil)
	r.Update("Camden", func(st *BoroughStatus) {
		st.State = StateRunning
		st.Found = 3
	})

	st, _ := r.Get("Camden")
	st.Found = 99 // mutating the copy must not touch the registry

	again, _ := r.Get("Camden")
	require.Equal(t, 3, again.Found)
	require.Equal(t, StateRunning, again.State)
}

func TestRegistryUpdateUnknownBoroughCreatesEntry(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Update("Southwark", func(st *BoroughStatus) {
		st.State = StateCompleted
	})
	st, ok := r.Get("Southwark")
	require.True(t, ok)
	require.Equal(t, StateCompleted, st.State)
}

func TestHubDeliversAndDrops(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	r := NewRegistry([]string{"Camden"}, hub)
	r.Update("Camden", func(st *BoroughStatus) { st.State = StateRunning })

	evt := <-ch
	require.Equal(t, "Camden", evt.Borough)
	require.Equal(t, StateRunning, evt.Status.State)
	require.False(t, evt.At.IsZero())

	// fill the buffer, the next emit is dropped instead of blocking
	r.Update("Camden", func(st *BoroughStatus) { st.Found = 1 })
	r.Update("Camden", func(st *BoroughStatus) { st.Found = 2 })
	require.Equal(t, int64(1), hub.Dropped())
}

func TestNilHubIsSafe(t *testing.T) {
	var hub *Hub
	hub.Emit(Event{Borough: "Camden"})
	require.Zero(t, hub.Dropped())
}
