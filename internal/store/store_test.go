package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 50, clampLimit(-5))
	assert.Equal(t, 1, clampLimit(1))
	assert.Equal(t, 120, clampLimit(120))
	assert.Equal(t, 200, clampLimit(500))
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, "gameId_1", indexName(bson.D{{Key: "gameId", Value: 1}}))
	assert.Equal(t, "gameId_1_tickCount_-1",
		indexName(bson.D{{Key: "gameId", Value: 1}, {Key: "tickCount", Value: -1}}))
	assert.Equal(t, "createdAt_-1", indexName(bson.D{{Key: "createdAt", Value: -1}}))
}
