package graphindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memstore "github.com/steveyegge/homegraph/internal/storage/memory"
	"github.com/steveyegge/homegraph/internal/types"
)

func seedRooms(t *testing.T, ctx context.Context, store *memstore.Store) map[string]*types.Entity {
	t.Helper()
	rooms := map[string]*types.Entity{}
	for _, id := range []string{"R1", "R2", "R3"} {
		e := &types.Entity{
			ID: id, Version: id + "-v1", EntityType: types.EntityRoom, Name: id,
			Content: types.ValueMap{}, SourceType: types.SourceManual, UserID: "u1",
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		require.NoError(t, store.PutEntity(ctx, e))
		rooms[id] = e
	}
	return rooms
}

func connect(t *testing.T, ctx context.Context, store *memstore.Store, rooms map[string]*types.Entity, from, to, id string) {
	t.Helper()
	rel := &types.EntityRelationship{
		ID: id, FromEntityID: from, FromEntityVersion: rooms[from].Version,
		ToEntityID: to, ToEntityVersion: rooms[to].Version,
		RelationshipType: types.RelConnectsTo, Properties: types.ValueMap{},
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.PutRelationship(ctx, rel))
}

func TestPathFindingAndRemoval(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rooms := seedRooms(t, ctx, store)
	connect(t, ctx, store, rooms, "R1", "R2", "rel-12")
	connect(t, ctx, store, rooms, "R2", "R3", "rel-23")

	idx := New(store)
	require.NoError(t, idx.Rebuild(ctx))

	path := idx.Path("R1", "R3", 5)
	assert.Equal(t, []string{"R1", "R2", "R3"}, path)

	idx.OnRelationshipDeleted("rel-23")
	assert.Nil(t, idx.Path("R1", "R3", 5))
}

func TestPathFromEqualsToReturnsSingleton(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedRooms(t, ctx, store)
	idx := New(store)
	require.NoError(t, idx.Rebuild(ctx))
	assert.Equal(t, []string{"R1"}, idx.Path("R1", "R1", 5))
}

func TestNeighborsDirectionAndFilter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rooms := seedRooms(t, ctx, store)
	connect(t, ctx, store, rooms, "R1", "R2", "rel-12")

	idx := New(store)
	require.NoError(t, idx.Rebuild(ctx))

	assert.Equal(t, []string{"R2"}, idx.Neighbors("R1", Outgoing, ""))
	assert.Empty(t, idx.Neighbors("R1", Incoming, ""))
	assert.Equal(t, []string{"R1"}, idx.Neighbors("R2", Incoming, ""))
	assert.Empty(t, idx.Neighbors("R1", Outgoing, types.RelLocatedIn))
}

func TestSubgraphRadiusBound(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rooms := seedRooms(t, ctx, store)
	connect(t, ctx, store, rooms, "R1", "R2", "rel-12")
	connect(t, ctx, store, rooms, "R2", "R3", "rel-23")

	idx := New(store)
	require.NoError(t, idx.Rebuild(ctx))

	within1, _ := idx.Subgraph("R1", 1)
	assert.Len(t, within1, 2) // R1, R2

	within2, rels := idx.Subgraph("R1", 2)
	assert.Len(t, within2, 3) // R1, R2, R3
	assert.Len(t, rels, 2)
}

func TestFindSimilarRanksByJaccardAndValueBonus(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	base := &types.Entity{
		ID: "D1", Version: "D1-v1", EntityType: types.EntityDevice, Name: "Lamp",
		Content:   types.ValueMap{"brightness": types.IntValue(50), "color": types.StringValue("white")},
		SourceType: types.SourceManual, UserID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	closeMatch := &types.Entity{
		ID: "D2", Version: "D2-v1", EntityType: types.EntityDevice, Name: "Lamp2",
		Content:   types.ValueMap{"brightness": types.IntValue(50), "color": types.StringValue("blue")},
		SourceType: types.SourceManual, UserID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	farMatch := &types.Entity{
		ID: "D3", Version: "D3-v1", EntityType: types.EntityDevice, Name: "Fan",
		Content:   types.ValueMap{"speed": types.IntValue(3)},
		SourceType: types.SourceManual, UserID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.PutEntity(ctx, base))
	require.NoError(t, store.PutEntity(ctx, closeMatch))
	require.NoError(t, store.PutEntity(ctx, farMatch))

	idx := New(store)
	require.NoError(t, idx.Rebuild(ctx))

	results, err := idx.FindSimilar("D1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "D2", results[0].Entity.ID, "exact brightness match should outrank no-overlap device")
}
