package procstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	s := New()
	s.Put("api", Record{Status: "running", PID: 123})

	rec, ok := s.Get("api")
	require.True(t, ok)
	require.Equal(t, "api", rec.Name)
	require.Equal(t, "running", rec.Status)
	require.Equal(t, 123, rec.PID)
	require.False(t, rec.UpdatedAt.IsZero())
}

func TestGetMissing(t *testing.T) {
	s := New()
	_, ok := s.Get("ghost")
	require.False(t, ok)
}

func TestListPreservesInsertionOrder(t *testing.T) {
	s := New()
	s.Put("c", Record{})
	s.Put("a", Record{})
	s.Put("b", Record{})

	names := s.Names()
	require.Equal(t, []string{"c", "a", "b"}, names)

	list := s.List()
	require.Len(t, list, 3)
	require.Equal(t, "c", list[0].Name)
}

func TestPutOverwriteKeepsOrderPosition(t *testing.T) {
	s := New()
	s.Put("a", Record{Status: "stopped"})
	s.Put("b", Record{Status: "stopped"})
	s.Put("a", Record{Status: "running"})

	require.Equal(t, []string{"a", "b"}, s.Names())
	rec, _ := s.Get("a")
	require.Equal(t, "running", rec.Status)
}

func TestDeleteRemovesAndPublishes(t *testing.T) {
	s := New()
	s.Put("api", Record{Status: "running"})

	ch, unsub := s.Subscribe()
	defer unsub()

	s.Delete("api")
	_, ok := s.Get("api")
	require.False(t, ok)
	require.Empty(t, s.Names())

	select {
	case ev := <-ch:
		require.True(t, ev.Deleted)
		require.Equal(t, "api", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("expected delete event")
	}
}

func TestSubscribeReceivesPutEvents(t *testing.T) {
	s := New()
	ch, unsub := s.Subscribe()
	defer unsub()

	s.Put("api", Record{Status: "starting"})

	select {
	case ev := <-ch:
		require.False(t, ev.Deleted)
		require.Equal(t, "api", ev.Name)
		require.Equal(t, "starting", ev.Record.Status)
	case <-time.After(time.Second):
		t.Fatal("expected put event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	ch, unsub := s.Subscribe()
	unsub()

	s.Put("api", Record{})

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")
}
