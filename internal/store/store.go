package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/rugslab/rugs-data-service/internal/events"
)

// Collection names.
const (
	colSnapshots        = "game_state_snapshots"
	colTrades           = "trades"
	colGames            = "games"
	colEvents           = "events"
	colConnectionEvents = "connection_events"
	colPRNGTracking     = "prng_tracking"
	colGodCandles       = "god_candles"
	colGameTicks        = "game_ticks"
	colGameIndices      = "game_indices"
	colSideBets         = "side_bets"
	colMeta             = "meta"
	colStatusChecks     = "status_checks"
)

// Options are the store tunables carried from config.
type Options struct {
	Timeout         time.Duration
	SnapshotTTLDays int
	EventTTLDays    int
	TicksTTLDays    int // 0 disables tick/index aging
}

// Store wraps the Mongo database handle. Every call applies the
// configured deadline; no caller-held lock spans store I/O.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	opts   Options
}

// Open connects and pings the document store.
func Open(ctx context.Context, url, dbName string, opts Options) (*Store, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(dbName), opts: opts}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping measures a round trip to the store for /api/readiness.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	start := time.Now()
	err := s.client.Ping(ctx, readpref.Primary())
	return time.Since(start), err
}

func (s *Store) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.Timeout)
}

func newID() string { return uuid.NewString() }

// ── Writes ──────────────────────────────────────────────────────────

func (s *Store) InsertSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = newID()
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	_, err := s.db.Collection(colSnapshots).InsertOne(ctx, snap)
	return err
}

// InsertTrade is idempotent on eventId: replays of the same trade leave
// exactly one document. Returns true when a new document was created.
func (s *Store) InsertTrade(ctx context.Context, t *TradeDoc) (bool, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	res, err := s.db.Collection(colTrades).UpdateOne(ctx,
		bson.M{"eventId": t.EventID},
		bson.M{"$setOnInsert": t},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

// UpsertGame applies $set fields to the game identified by gameId,
// creating the document if needed.
func (s *Store) UpsertGame(ctx context.Context, gameID string, set bson.M) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	set["id"] = gameID
	_, err := s.db.Collection(colGames).UpdateOne(ctx,
		bson.M{"id": gameID},
		bson.M{"$set": set, "$setOnInsert": bson.M{"_id": newID()}},
		options.Update().SetUpsert(true),
	)
	return err
}

// AppendGamePhase records one phase transition on the game's history.
func (s *Store) AppendGamePhase(ctx context.Context, gameID string, p Phase) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	_, err := s.db.Collection(colGames).UpdateOne(ctx,
		bson.M{"id": gameID},
		bson.M{
			"$push":        bson.M{"history": p},
			"$set":         bson.M{"lastSeenAt": time.Now().UTC()},
			"$setOnInsert": bson.M{"_id": newID(), "id": gameID},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) SetGameQuality(ctx context.Context, gameID string, q Quality) error {
	return s.UpsertGame(ctx, gameID, bson.M{"quality": q})
}

func (s *Store) InsertEvent(ctx context.Context, typ string, payload any, v *events.Validation) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	_, err := s.db.Collection(colEvents).InsertOne(ctx, &EventDoc{
		ID:         newID(),
		Type:       typ,
		Payload:    payload,
		Validation: v,
		CreatedAt:  time.Now().UTC(),
	})
	return err
}

func (s *Store) InsertConnectionEvent(ctx context.Context, socketID, eventType string, meta any) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	now := time.Now().UTC()
	_, err := s.db.Collection(colConnectionEvents).InsertOne(ctx, &ConnectionEventDoc{
		ID:          newID(),
		SocketID:    socketID,
		EventType:   eventType,
		Metadata:    meta,
		TimestampMs: now.UnixMilli(),
		CreatedAt:   now,
	})
	return err
}

// UpsertSideBet inserts a placement or merges a resolution into the
// matching open bet (same game, player, startTick).
func (s *Store) UpsertSideBet(ctx context.Context, b *SideBetDoc) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	if b.StartTick == nil {
		if b.ID == "" {
			b.ID = newID()
		}
		_, err := s.db.Collection(colSideBets).InsertOne(ctx, b)
		return err
	}

	set := bson.M{"event": b.Event}
	if b.EndTick != nil {
		set["endTick"] = b.EndTick
	}
	if b.BetAmount != nil {
		set["betAmount"] = b.BetAmount
	}
	if b.TargetMultiplier != nil {
		set["targetMultiplier"] = b.TargetMultiplier
	}
	if b.PayoutRatio != nil {
		set["payoutRatio"] = b.PayoutRatio
	}
	if b.Won != nil {
		set["won"] = b.Won
	}
	if b.PnL != nil {
		set["pnl"] = b.PnL
	}
	if b.Validation != nil {
		set["validation"] = b.Validation
	}
	_, err := s.db.Collection(colSideBets).UpdateOne(ctx,
		bson.M{"gameId": b.GameID, "playerId": b.PlayerID, "startTick": b.StartTick},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"_id": newID(), "createdAt": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// UpsertGodCandle is idempotent on (gameId, tickIndex).
func (s *Store) UpsertGodCandle(ctx context.Context, g *GodCandleDoc) error {
	if g.ID == "" {
		g.ID = newID()
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	_, err := s.db.Collection(colGodCandles).UpdateOne(ctx,
		bson.M{"gameId": g.GameID, "tickIndex": g.TickIndex},
		bson.M{"$setOnInsert": g},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// UpsertTick is idempotent on (gameId, tick).
func (s *Store) UpsertTick(ctx context.Context, gameID string, tick int, price float64) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	_, err := s.db.Collection(colGameTicks).UpdateOne(ctx,
		bson.M{"gameId": gameID, "tick": tick},
		bson.M{"$setOnInsert": &TickDoc{
			ID:        newID(),
			GameID:    gameID,
			Tick:      tick,
			Price:     price,
			CreatedAt: time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// UpsertOHLC folds one tick into its 5-tick aggregate: open is fixed on
// first insert, close always tracks the latest tick, high/low ride
// $max/$min. Idempotent on (gameId, index) under retry.
func (s *Store) UpsertOHLC(ctx context.Context, gameID string, index, tick int, price float64) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	now := time.Now().UTC()
	_, err := s.db.Collection(colGameIndices).UpdateOne(ctx,
		bson.M{"gameId": gameID, "index": index},
		bson.M{
			"$setOnInsert": bson.M{
				"_id":       newID(),
				"open":      price,
				"startTick": index * 5,
				"createdAt": now,
			},
			"$set": bson.M{"close": price, "endTick": tick, "updatedAt": now},
			"$max": bson.M{"high": price},
			"$min": bson.M{"low": price},
		},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// UpsertLiveState replaces the live_state meta singleton.
func (s *Store) UpsertLiveState(ctx context.Context, ls *LiveState) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	doc := bson.M{
		"key":           "live_state",
		"gameId":        ls.GameID,
		"phase":         ls.Phase,
		"active":        ls.Active,
		"rugged":        ls.Rugged,
		"price":         ls.Price,
		"tickCount":     ls.TickCount,
		"cooldownTimer": ls.CooldownTimer,
		"provablyFair":  ls.ProvablyFair,
		"updatedAt":     ls.UpdatedAt,
	}
	_, err := s.db.Collection(colMeta).UpdateOne(ctx,
		bson.M{"key": "live_state"},
		bson.M{"$set": doc, "$setOnInsert": bson.M{"_id": newID()}},
		options.Update().SetUpsert(true),
	)
	return err
}

// UpsertPRNGTracking applies $set fields to the tracking record for a game.
func (s *Store) UpsertPRNGTracking(ctx context.Context, gameID string, set bson.M) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	set["gameId"] = gameID
	set["updatedAt"] = time.Now().UTC()
	_, err := s.db.Collection(colPRNGTracking).UpdateOne(ctx,
		bson.M{"gameId": gameID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"_id": newID(), "createdAt": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) InsertStatusCheck(ctx context.Context, sc *StatusCheck) error {
	if sc.ID == "" {
		sc.ID = newID()
	}
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	_, err := s.db.Collection(colStatusChecks).InsertOne(ctx, sc)
	return err
}

// ── Reads ───────────────────────────────────────────────────────────

func (s *Store) GetLiveState(ctx context.Context) (*LiveState, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	var ls LiveState
	err := s.db.Collection(colMeta).FindOne(ctx, bson.M{"key": "live_state"}).Decode(&ls)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ls, nil
}

// RecentSnapshots returns the newest snapshots without payload bodies.
func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	cur, err := s.db.Collection(colSnapshots).Find(ctx, bson.M{},
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}}).
			SetLimit(int64(clampLimit(limit))).
			SetProjection(bson.M{"payload": 0}),
	)
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	return out, cur.All(ctx, &out)
}

func (s *Store) RecentGames(ctx context.Context, limit int) ([]Game, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	cur, err := s.db.Collection(colGames).Find(ctx, bson.M{},
		options.Find().
			SetSort(bson.D{{Key: "lastSeenAt", Value: -1}}).
			SetLimit(int64(clampLimit(limit))),
	)
	if err != nil {
		return nil, err
	}
	var out []Game
	return out, cur.All(ctx, &out)
}

func (s *Store) GameByID(ctx context.Context, id string) (*Game, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	var g Game
	err := s.db.Collection(colGames).FindOne(ctx, bson.M{"id": id}).Decode(&g)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CurrentGame is the most recently seen game.
func (s *Store) CurrentGame(ctx context.Context) (*Game, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	var g Game
	err := s.db.Collection(colGames).FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "lastSeenAt", Value: -1}}),
	).Decode(&g)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) OHLCByGame(ctx context.Context, gameID string, limit int) ([]OHLCDoc, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	cur, err := s.db.Collection(colGameIndices).Find(ctx,
		bson.M{"gameId": gameID},
		options.Find().
			SetSort(bson.D{{Key: "index", Value: 1}}).
			SetLimit(int64(clampLimit(limit))),
	)
	if err != nil {
		return nil, err
	}
	var out []OHLCDoc
	return out, cur.All(ctx, &out)
}

func (s *Store) TicksByGame(ctx context.Context, gameID string) ([]TickDoc, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	cur, err := s.db.Collection(colGameTicks).Find(ctx,
		bson.M{"gameId": gameID},
		options.Find().SetSort(bson.D{{Key: "tick", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var out []TickDoc
	return out, cur.All(ctx, &out)
}

func (s *Store) GodCandlesByGame(ctx context.Context, gameID string) ([]GodCandleDoc, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	filter := bson.M{}
	if gameID != "" {
		filter["gameId"] = gameID
	}
	cur, err := s.db.Collection(colGodCandles).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(200),
	)
	if err != nil {
		return nil, err
	}
	var out []GodCandleDoc
	return out, cur.All(ctx, &out)
}

func (s *Store) PRNGTrackingList(ctx context.Context, limit int) ([]PRNGTrackingDoc, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	cur, err := s.db.Collection(colPRNGTracking).Find(ctx, bson.M{},
		options.Find().
			SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
			SetLimit(int64(clampLimit(limit))),
	)
	if err != nil {
		return nil, err
	}
	var out []PRNGTrackingDoc
	return out, cur.All(ctx, &out)
}

func (s *Store) PRNGTrackingByGame(ctx context.Context, gameID string) (*PRNGTrackingDoc, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	var doc PRNGTrackingDoc
	err := s.db.Collection(colPRNGTracking).FindOne(ctx, bson.M{"gameId": gameID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) StatusChecks(ctx context.Context, limit int) ([]StatusCheck, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	cur, err := s.db.Collection(colStatusChecks).Find(ctx, bson.M{},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetLimit(int64(clampLimit(limit))),
	)
	if err != nil {
		return nil, err
	}
	var out []StatusCheck
	return out, cur.All(ctx, &out)
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
