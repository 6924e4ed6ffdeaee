package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/edgepresence/internal/store"
)

func TestSubscribe_InitialAndChanges(t *testing.T) {
	s := New()
	ref := s.Ref("/presence/a/")
	assert.Equal(t, "presence/a", ref.Path())

	var got []string
	unsub, err := s.Subscribe(ref, func(snap store.Snapshot) {
		if !snap.Exists() {
			got = append(got, "<none>")
			return
		}
		var v map[string]any
		require.NoError(t, snap.Decode(&v))
		got = append(got, v["state"].(string))
	}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), ref, map[string]any{"state": "online"}))
	unsub()
	unsub()
	require.NoError(t, s.Write(context.Background(), ref, map[string]any{"state": "busy"}))

	assert.Equal(t, []string{"<none>", "online"}, got)
	assert.Equal(t, 0, s.Watchers("presence/a"))
	assert.Len(t, s.History("presence/a"), 2)
	assert.Equal(t, 2, s.Writes())
}

func TestWrite_ResolvesServerTimestamp(t *testing.T) {
	s := New()
	fixed := time.UnixMilli(1_700_000_000_123)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Write(context.Background(), s.Ref("p/a"), map[string]any{"lastChanged": s.ServerTimestamp()}))

	data, ok := s.Get("p/a")
	require.True(t, ok)
	assert.JSONEq(t, `{"lastChanged":1700000000123}`, string(data))
}

func TestConnectivity(t *testing.T) {
	s := New()
	var seen []bool
	unsub, err := s.Subscribe(s.ConnectedRef(), func(snap store.Snapshot) {
		var b bool
		require.NoError(t, snap.Decode(&b))
		seen = append(seen, b)
	}, nil)
	require.NoError(t, err)
	defer unsub()

	s.SetConnected(false)
	s.SetConnected(false)
	s.SetConnected(true)

	assert.Equal(t, []bool{true, false, true}, seen)
	assert.Equal(t, 1, s.ConnectedListeners())
}

func TestDrop_AppliesWills(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := s.Ref("p/a")
	require.NoError(t, s.Write(ctx, ref, map[string]any{"state": "online"}))

	od := s.OnDisconnect(ref)
	require.NoError(t, od.Write(ctx, map[string]any{"state": "offline", "lastChanged": s.ServerTimestamp()}))
	require.True(t, s.HasWill("p/a"))

	s.Drop()

	data, _ := s.Get("p/a")
	var v map[string]any
	require.NoError(t, store.JSONSnapshot(data).Decode(&v))
	assert.Equal(t, "offline", v["state"])
	assert.NotNil(t, v["lastChanged"])
	assert.False(t, s.HasWill("p/a"))

	// A cancelled will is not applied
	require.NoError(t, s.Write(ctx, ref, map[string]any{"state": "busy"}))
	require.NoError(t, od.Write(ctx, map[string]any{"state": "offline"}))
	require.NoError(t, od.Cancel(ctx))
	s.SetConnected(true)
	s.Drop()
	data, _ = s.Get("p/a")
	assert.JSONEq(t, `{"state":"busy"}`, string(data))
}

func TestFailureInjection(t *testing.T) {
	s := New()
	boom := errors.New("boom")

	s.FailSubscribe(boom)
	_, err := s.Subscribe(s.ConnectedRef(), func(store.Snapshot) {}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Subscribes())

	s.FailWrites(boom)
	assert.ErrorIs(t, s.Write(context.Background(), s.Ref("x"), 1), boom)
	assert.ErrorIs(t, s.OnDisconnect(s.Ref("x")).Write(context.Background(), 1), boom)

	s.FailWrites(nil)
	s.FailSubscribe(nil)
	assert.NoError(t, s.Write(context.Background(), s.Ref("x"), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Write(ctx, s.Ref("x"), 2), context.Canceled)
}
