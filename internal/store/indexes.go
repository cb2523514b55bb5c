package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rugslab/rugs-data-service/internal/telemetry"
)

const daySeconds = 24 * 60 * 60

// EnsureIndexes creates every index the pipeline and the REST surface
// rely on. Runs once at startup; all creations are idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
		ttlSec int32 // 0 = no TTL
	}

	snapTTL := int32(s.opts.SnapshotTTLDays * daySeconds)
	eventTTL := int32(s.opts.EventTTLDays * daySeconds)
	ticksTTL := int32(s.opts.TicksTTLDays * daySeconds)

	indexes := []idx{
		{col: colSnapshots, keys: bson.D{{Key: "gameId", Value: 1}, {Key: "tickCount", Value: -1}}},
		{col: colSnapshots, keys: bson.D{{Key: "createdAt", Value: -1}}, ttlSec: snapTTL},

		{col: colTrades, keys: bson.D{{Key: "gameId", Value: 1}, {Key: "tickIndex", Value: 1}}},

		{col: colGames, keys: bson.D{{Key: "id", Value: 1}}, unique: true},
		{col: colGames, keys: bson.D{{Key: "phase", Value: 1}}},
		{col: colGames, keys: bson.D{{Key: "hasGodCandle", Value: 1}}},
		{col: colGames, keys: bson.D{{Key: "prngVerified", Value: 1}}},
		{col: colGames, keys: bson.D{{Key: "startTime", Value: -1}}},
		{col: colGames, keys: bson.D{{Key: "endTime", Value: -1}}},
		{col: colGames, keys: bson.D{{Key: "rugTick", Value: 1}}},
		{col: colGames, keys: bson.D{{Key: "endPrice", Value: 1}}},
		{col: colGames, keys: bson.D{{Key: "peakMultiplier", Value: -1}}},
		{col: colGames, keys: bson.D{{Key: "totalTicks", Value: 1}}},
		{col: colGames, keys: bson.D{{Key: "lastSeenAt", Value: -1}}},

		{col: colEvents, keys: bson.D{{Key: "type", Value: 1}, {Key: "createdAt", Value: -1}}},
		{col: colEvents, keys: bson.D{{Key: "createdAt", Value: 1}}, ttlSec: eventTTL},

		{col: colConnectionEvents, keys: bson.D{{Key: "eventType", Value: 1}, {Key: "createdAt", Value: -1}}},
		{col: colConnectionEvents, keys: bson.D{{Key: "createdAt", Value: 1}}, ttlSec: eventTTL},

		{col: colPRNGTracking, keys: bson.D{{Key: "gameId", Value: 1}}, unique: true},

		{col: colGodCandles, keys: bson.D{{Key: "gameId", Value: 1}, {Key: "tickIndex", Value: 1}}, unique: true},
		{col: colGodCandles, keys: bson.D{{Key: "createdAt", Value: -1}}},
		{col: colGodCandles, keys: bson.D{{Key: "underCap", Value: 1}}},

		{col: colGameTicks, keys: bson.D{{Key: "gameId", Value: 1}, {Key: "tick", Value: 1}}, unique: true},
		{col: colGameIndices, keys: bson.D{{Key: "gameId", Value: 1}, {Key: "index", Value: 1}}, unique: true},

		{col: colSideBets, keys: bson.D{{Key: "gameId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{col: colSideBets, keys: bson.D{{Key: "gameId", Value: 1}, {Key: "startTick", Value: 1}}},

		{col: colMeta, keys: bson.D{{Key: "key", Value: 1}}, unique: true},
		{col: colStatusChecks, keys: bson.D{{Key: "timestamp", Value: -1}}},
	}

	if ticksTTL > 0 {
		indexes = append(indexes,
			idx{col: colGameTicks, keys: bson.D{{Key: "createdAt", Value: 1}}, ttlSec: ticksTTL},
			idx{col: colGameIndices, keys: bson.D{{Key: "createdAt", Value: 1}}, ttlSec: ticksTTL},
		)
	}

	for _, def := range indexes {
		opts := options.Index()
		if def.unique {
			opts.SetUnique(true)
		}
		if def.ttlSec > 0 {
			opts.SetExpireAfterSeconds(def.ttlSec)
		}
		if err := s.ensureIndex(ctx, def.col, def.keys, opts, def.ttlSec); err != nil {
			return fmt.Errorf("ensure index on %s: %w", def.col, err)
		}
	}

	// eventId must be unique for at-most-once trades; if historical
	// duplicates block that, fall back to a non-unique index.
	tradeKeys := bson.D{{Key: "eventId", Value: 1}}
	if err := s.ensureIndex(ctx, colTrades, tradeKeys, options.Index().SetUnique(true), 0); err != nil {
		telemetry.Warnf("store: unique trades.eventId index failed (%v), falling back to non-unique", err)
		if err := s.ensureIndex(ctx, colTrades, tradeKeys, options.Index(), 0); err != nil {
			return fmt.Errorf("ensure trades.eventId index: %w", err)
		}
	}
	return nil
}

// ensureIndex creates one index. When an equivalent index exists with a
// different TTL, it first tries collMod to adjust expireAfterSeconds in
// place, and drops/recreates only if the modification is unsupported.
func (s *Store) ensureIndex(ctx context.Context, col string, keys bson.D, opts *options.IndexOptions, ttlSec int32) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	model := mongo.IndexModel{Keys: keys, Options: opts}
	_, err := s.db.Collection(col).Indexes().CreateOne(ctx, model)
	if err == nil {
		return nil
	}

	cmdErr, ok := err.(mongo.CommandError)
	if !ok {
		return err
	}

	// 85 IndexOptionsConflict, 86 IndexKeySpecsConflict
	if cmdErr.Code != 85 && cmdErr.Code != 86 {
		return err
	}

	name := indexName(keys)
	if ttlSec > 0 {
		res := s.db.RunCommand(ctx, bson.D{
			{Key: "collMod", Value: col},
			{Key: "index", Value: bson.D{
				{Key: "name", Value: name},
				{Key: "expireAfterSeconds", Value: ttlSec},
			}},
		})
		if res.Err() == nil {
			return nil
		}
		telemetry.Warnf("store: collMod %s.%s failed (%v), recreating index", col, name, res.Err())
	}

	if _, dropErr := s.db.Collection(col).Indexes().DropOne(ctx, name); dropErr != nil {
		return fmt.Errorf("drop conflicting index %s: %w", name, dropErr)
	}
	_, err = s.db.Collection(col).Indexes().CreateOne(ctx, model)
	return err
}

// indexName reproduces the driver's default name for a key spec.
func indexName(keys bson.D) string {
	name := ""
	for i, k := range keys {
		if i > 0 {
			name += "_"
		}
		name += fmt.Sprintf("%s_%v", k.Key, k.Value)
	}
	return name
}
