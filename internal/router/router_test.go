package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rugslab/rugs-data-service/internal/events"
	"github.com/rugslab/rugs-data-service/internal/schema"
	"github.com/rugslab/rugs-data-service/internal/store"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
	"github.com/rugslab/rugs-data-service/internal/worker"
)

type fakePersister struct {
	mu        sync.Mutex
	snapshots []*store.Snapshot
	trades    []*store.TradeDoc
	sideBets  []*store.SideBetDoc
	archived  []string
}

func (f *fakePersister) InsertSnapshot(_ context.Context, snap *store.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakePersister) InsertTrade(_ context.Context, tr *store.TradeDoc) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.trades {
		if existing.EventID == tr.EventID {
			return false, nil
		}
	}
	f.trades = append(f.trades, tr)
	return true, nil
}

func (f *fakePersister) InsertEvent(_ context.Context, typ string, _ any, _ *events.Validation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, typ)
	return nil
}

func (f *fakePersister) UpsertSideBet(_ context.Context, b *store.SideBetDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sideBets = append(f.sideBets, b)
	return nil
}

type syncSink struct{}

func (syncSink) Submit(j worker.Job) bool {
	_ = j.Do(context.Background())
	return true
}

type fakeTracker struct {
	mu    sync.Mutex
	snaps []*events.GameStateUpdate
	phase string
}

func (f *fakeTracker) OnSnapshot(snap *events.GameStateUpdate, _ time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return f.phase
}

type capturePub struct {
	mu     sync.Mutex
	frames []any
}

func (p *capturePub) Publish(frame any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
}

func newRouter(t *testing.T) (*Router, *fakePersister, *fakeTracker, *capturePub) {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)
	fp := &fakePersister{}
	tr := &fakeTracker{phase: "ACTIVE"}
	pub := &capturePub{}
	return New(nil, reg, fp, syncSink{}, tr, pub), fp, tr, pub
}

func frame(name, payload string) events.RawFrame {
	return events.RawFrame{Name: name, Payload: []byte(payload), ReceivedAt: time.Now().UTC()}
}

func TestGameStateFlow(t *testing.T) {
	r, fp, tr, pub := newRouter(t)

	r.handle(frame("gameStateUpdate",
		`{"gameId":"g1","active":true,"rugged":false,"price":1.5,"tickCount":7,"cooldownTimer":0}`))

	require.Len(t, tr.snaps, 1)
	assert.Equal(t, "g1", tr.snaps[0].GameID)

	require.Len(t, fp.snapshots, 1)
	snap := fp.snapshots[0]
	assert.Equal(t, "g1", snap.GameID)
	assert.Equal(t, "ACTIVE", snap.Phase)
	require.NotNil(t, snap.Validation)
	assert.True(t, snap.Validation.OK)

	require.Len(t, pub.frames, 1)
	out, ok := pub.frames[0].(events.GameStateFrame)
	require.True(t, ok)
	assert.Equal(t, events.FrameSchema, out.Schema)
	assert.Equal(t, 7, out.Tick)
	assert.Equal(t, 1.5, out.Price)
	assert.Equal(t, "ACTIVE", out.Phase)
}

func TestGameStateWarnOnlyValidation(t *testing.T) {
	r, fp, tr, pub := newRouter(t)

	// Missing required fields: fails validation but still flows.
	r.handle(frame("gameStateUpdate", `{"gameId":"g1","active":true,"rugged":false}`))

	require.Len(t, tr.snaps, 1)
	require.Len(t, fp.snapshots, 1)
	require.NotNil(t, fp.snapshots[0].Validation)
	assert.False(t, fp.snapshots[0].Validation.OK)

	require.Len(t, pub.frames, 1)
	out := pub.frames[0].(events.GameStateFrame)
	assert.False(t, out.Validation.OK)
}

func TestTradeFlow(t *testing.T) {
	r, fp, _, pub := newRouter(t)
	before := telemetry.Metrics.TradesStored.Value()

	payload := `{"id":"t1","gameId":"g1","playerId":"p1","type":"buy","tickIndex":3,"amount":0.5,"qty":2}`
	r.handle(frame("standard/newTrade", payload))

	require.Len(t, fp.trades, 1)
	assert.Equal(t, "t1", fp.trades[0].EventID)
	assert.Equal(t, "buy", fp.trades[0].Type)
	assert.Equal(t, before+1, telemetry.Metrics.TradesStored.Value())

	require.Len(t, pub.frames, 1)
	out := pub.frames[0].(events.TradeFrame)
	assert.Equal(t, events.TypeTrade, out.Type)
	assert.Equal(t, 3, out.TickIndex)
}

func TestTradeReplayCountsOnce(t *testing.T) {
	r, fp, _, _ := newRouter(t)
	before := telemetry.Metrics.TradesStored.Value()

	payload := `{"id":"t1","gameId":"g1","playerId":"p1","type":"buy","tickIndex":3,"amount":0.5,"qty":2}`
	for i := 0; i < 10; i++ {
		r.handle(frame("standard/newTrade", payload))
	}

	assert.Len(t, fp.trades, 1)
	assert.Equal(t, before+1, telemetry.Metrics.TradesStored.Value())
}

func TestSideBetFlow(t *testing.T) {
	r, fp, _, pub := newRouter(t)

	r.handle(frame("standard/sideBetPlaced",
		`{"gameId":"g1","playerId":"p1","startTick":10,"betAmount":0.25,"targetMultiplier":2}`))

	require.Len(t, fp.sideBets, 1)
	b := fp.sideBets[0]
	assert.Equal(t, "standard/sideBetPlaced", b.Event)
	require.NotNil(t, b.StartTick)
	assert.Equal(t, 10, *b.StartTick)

	require.Len(t, pub.frames, 1)
	out := pub.frames[0].(events.SideBetFrame)
	assert.Equal(t, events.TypeSideBet, out.Type)
	assert.Equal(t, "standard/sideBetPlaced", out.Event)
}

func TestUnmappedEventArchived(t *testing.T) {
	r, fp, tr, pub := newRouter(t)

	r.handle(frame("leaderboard", `[{"playerId":"p1"}]`))
	r.handle(frame("rugPool", `{"pool":1.2}`))

	assert.Equal(t, []string{"leaderboard", "rugPool"}, fp.archived)
	assert.Empty(t, tr.snaps)
	assert.Empty(t, pub.frames)
}

func TestPlayerUpdateArchived(t *testing.T) {
	r, fp, _, pub := newRouter(t)

	r.handle(frame("playerUpdate", `{"playerId":"p1","balance":10}`))

	assert.Equal(t, []string{"playerUpdate"}, fp.archived)
	assert.Empty(t, pub.frames)
}

func TestMalformedSnapshotArchived(t *testing.T) {
	r, fp, tr, pub := newRouter(t)

	r.handle(frame("gameStateUpdate", `{"gameId": 42}`))

	assert.Empty(t, tr.snaps)
	assert.Empty(t, pub.frames)
	assert.Equal(t, []string{"gameStateUpdate"}, fp.archived)
}

func TestRunDrainsUntilClose(t *testing.T) {
	reg, err := schema.Load()
	require.NoError(t, err)
	fp := &fakePersister{}
	tr := &fakeTracker{phase: "ACTIVE"}
	pub := &capturePub{}

	frames := make(chan events.RawFrame, 4)
	r := New(frames, reg, fp, syncSink{}, tr, pub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background())
	}()

	frames <- frame("gameStateUpdate",
		`{"gameId":"g1","active":true,"rugged":false,"price":1,"tickCount":0,"cooldownTimer":0}`)
	close(frames)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("router did not exit on channel close")
	}
	assert.Len(t, tr.snaps, 1)
}
