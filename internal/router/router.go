// Package router drains the raw upstream frame stream and fans each
// event through validation, persistence, the game tracker, and the
// downstream broadcast, in that order.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rugslab/rugs-data-service/internal/events"
	"github.com/rugslab/rugs-data-service/internal/schema"
	"github.com/rugslab/rugs-data-service/internal/store"
	"github.com/rugslab/rugs-data-service/internal/telemetry"
	"github.com/rugslab/rugs-data-service/internal/worker"
)

// Persister is the slice of the store the router writes through.
type Persister interface {
	InsertSnapshot(ctx context.Context, snap *store.Snapshot) error
	InsertTrade(ctx context.Context, t *store.TradeDoc) (bool, error)
	InsertEvent(ctx context.Context, typ string, payload any, v *events.Validation) error
	UpsertSideBet(ctx context.Context, b *store.SideBetDoc) error
}

// Tracker applies a snapshot to the lifecycle state machine and
// returns the phase it derived.
type Tracker interface {
	OnSnapshot(snap *events.GameStateUpdate, now time.Time) string
}

// Publisher fans a frame out to stream subscribers.
type Publisher interface {
	Publish(frame any)
}

// JobSink accepts persistence work items.
type JobSink interface {
	Submit(worker.Job) bool
}

type Router struct {
	frames  <-chan events.RawFrame
	reg     *schema.Registry
	st      Persister
	jobs    JobSink
	tracker Tracker
	pub     Publisher
}

func New(frames <-chan events.RawFrame, reg *schema.Registry, st Persister, jobs JobSink, tr Tracker, pub Publisher) *Router {
	return &Router{frames: frames, reg: reg, st: st, jobs: jobs, tracker: tr, pub: pub}
}

// Run processes frames until the stream closes or ctx is cancelled.
// Single goroutine: the tracker relies on snapshots arriving in order.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-r.frames:
			if !ok {
				return
			}
			r.handle(f)
		}
	}
}

func (r *Router) handle(f events.RawFrame) {
	// A malformed frame must never take the dispatch loop down.
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.Metrics.Errors.Inc("routerPanic")
			telemetry.Errorf("router: panic handling %s: %v", f.Name, rec)
		}
	}()

	now := f.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	telemetry.Metrics.MessagesProcessed.Inc()
	telemetry.Metrics.LastEventUnixMs.Set(now.UnixMilli())
	telemetry.Metrics.Rate1m.Mark(now)
	telemetry.Metrics.Rate5m.Mark(now)

	key, mapped := events.SchemaKeyFor(f.Name)
	if !mapped {
		// Unknown event families are archived as-is, unvalidated.
		r.archive(f.Name, f.Payload, nil)
		return
	}

	// Validation is warn-only: a failing payload is still persisted
	// and still broadcast, tagged with the failure.
	v := r.reg.Validate(key, f.Payload)

	switch key {
	case events.SchemaGameStateUpdate:
		r.onGameState(f, v, now)
	case events.SchemaNewTrade:
		r.onTrade(f, v, now)
	case events.SchemaCurrentSideBet, events.SchemaNewSideBet:
		r.onSideBet(f, v, now)
	default:
		// Player-scoped updates have no dedicated collection.
		r.archive(f.Name, f.Payload, &v)
	}
}

func (r *Router) onGameState(f events.RawFrame, v events.Validation, now time.Time) {
	snap, err := events.ParseGameStateUpdate(f.Payload)
	if err != nil {
		telemetry.Warnf("router: bad gameStateUpdate: %v", err)
		telemetry.Metrics.Errors.Inc("parseGameStateUpdate")
		r.archive(f.Name, f.Payload, &v)
		return
	}

	phase := r.tracker.OnSnapshot(snap, now)

	doc := &store.Snapshot{
		GameID:        snap.GameID,
		TickCount:     snap.TickCount,
		Active:        snap.Active,
		Rugged:        snap.Rugged,
		Price:         snap.Price,
		CooldownTimer: snap.CooldownTimer,
		Phase:         phase,
		Payload:       decode(f.Payload),
		Validation:    &v,
		CreatedAt:     now,
	}
	if snap.ProvablyFair != nil {
		doc.ProvablyFair = snap.ProvablyFair
	}
	r.jobs.Submit(worker.Job{Key: snap.GameID, Name: "snapshot", Do: func(ctx context.Context) error {
		return r.st.InsertSnapshot(ctx, doc)
	}})

	out := events.GameStateFrame{
		Schema:     events.FrameSchema,
		Type:       events.TypeGameStateUpdate,
		GameID:     snap.GameID,
		Phase:      phase,
		Validation: v,
		TS:         now,
	}
	if snap.TickCount != nil {
		out.Tick = *snap.TickCount
	}
	if snap.Price != nil {
		out.Price = *snap.Price
	}
	r.pub.Publish(out)
}

func (r *Router) onTrade(f events.RawFrame, v events.Validation, now time.Time) {
	trade, err := events.ParseTrade(f.Payload)
	if err != nil {
		telemetry.Warnf("router: bad trade: %v", err)
		telemetry.Metrics.Errors.Inc("parseTrade")
		r.archive(f.Name, f.Payload, &v)
		return
	}

	doc := &store.TradeDoc{
		EventID:    trade.ID,
		GameID:     trade.GameID,
		PlayerID:   trade.PlayerID,
		Type:       trade.Type,
		TickIndex:  trade.TickIndex,
		Amount:     trade.Amount,
		Qty:        trade.Qty,
		Price:      trade.Price,
		Coin:       trade.Coin,
		Validation: &v,
		CreatedAt:  now,
	}
	r.jobs.Submit(worker.Job{Key: trade.GameID, Name: "trade", Do: func(ctx context.Context) error {
		created, err := r.st.InsertTrade(ctx, doc)
		if created {
			telemetry.Metrics.TradesStored.Inc()
		}
		return err
	}})

	r.pub.Publish(events.TradeFrame{
		Schema:     events.FrameSchema,
		Type:       events.TypeTrade,
		GameID:     trade.GameID,
		PlayerID:   trade.PlayerID,
		TradeType:  trade.Type,
		TickIndex:  trade.TickIndex,
		Amount:     trade.Amount,
		Qty:        trade.Qty,
		Price:      trade.Price,
		Validation: v,
		TS:         now,
	})
}

func (r *Router) onSideBet(f events.RawFrame, v events.Validation, now time.Time) {
	bet, err := events.ParseSideBet(f.Payload)
	if err != nil {
		telemetry.Warnf("router: bad side bet: %v", err)
		telemetry.Metrics.Errors.Inc("parseSideBet")
		r.archive(f.Name, f.Payload, &v)
		return
	}

	doc := &store.SideBetDoc{
		GameID:           bet.GameID,
		PlayerID:         bet.PlayerID,
		StartTick:        bet.StartTick,
		EndTick:          bet.EndTick,
		BetAmount:        bet.BetAmount,
		TargetMultiplier: bet.TargetMultiplier,
		PayoutRatio:      bet.PayoutRatio,
		Won:              bet.Won,
		PnL:              bet.PnL,
		Event:            f.Name,
		Validation:       &v,
		CreatedAt:        now,
	}
	r.jobs.Submit(worker.Job{Key: bet.GameID, Name: "sideBet", Do: func(ctx context.Context) error {
		return r.st.UpsertSideBet(ctx, doc)
	}})

	r.pub.Publish(events.SideBetFrame{
		Schema:     events.FrameSchema,
		Type:       events.TypeSideBet,
		Event:      f.Name,
		GameID:     bet.GameID,
		PlayerID:   bet.PlayerID,
		Validation: v,
		TS:         now,
	})
}

func (r *Router) archive(name string, payload json.RawMessage, v *events.Validation) {
	body := decode(payload)
	r.jobs.Submit(worker.Job{Key: name, Name: "eventArchive", Do: func(ctx context.Context) error {
		return r.st.InsertEvent(ctx, name, body, v)
	}})
}

// decode turns raw JSON into a document-friendly value; unparseable
// payloads are archived as strings rather than lost.
func decode(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
