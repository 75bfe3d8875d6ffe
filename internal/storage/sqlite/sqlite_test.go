package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/idgen"
	"github.com/steveyegge/homegraph/internal/storage"
	"github.com/steveyegge/homegraph/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEntity(id, version string, parents []string) *types.Entity {
	now := time.Now()
	return &types.Entity{
		ID:             id,
		Version:        version,
		EntityType:     types.EntityRoom,
		Name:           "Living Room",
		Content:        types.ValueMap{"floor": types.IntValue(1)},
		SourceType:     types.SourceManual,
		UserID:         "u1",
		ParentVersions: parents,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestPutGetEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := idgen.NewVersionClock("u1")
	v1 := clock.Next()

	e := newEntity("E1", v1, nil)
	require.NoError(t, s.PutEntity(ctx, e))

	got, err := s.GetEntity(ctx, "E1", v1)
	require.NoError(t, err)
	assert.Equal(t, e.Name, got.Name)
	assert.True(t, e.Content["floor"].Equal(got.Content["floor"]))
}

func TestPutEntityRejectsUnknownParent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := newEntity("E1", idgen.NewVersionClock("u1").Next(), []string{"ghost-version"})
	err := s.PutEntity(ctx, e)
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.ParentUnknown, kind)
}

func TestPutEntityRejectsTypeChange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := idgen.NewVersionClock("u1")
	v1 := clock.Next()
	require.NoError(t, s.PutEntity(ctx, newEntity("E1", v1, nil)))

	v2 := clock.Next()
	e2 := newEntity("E1", v2, []string{v1})
	e2.EntityType = types.EntityDevice
	err := s.PutEntity(ctx, e2)
	require.Error(t, err)
	kind, _ := errkind.KindOf(err)
	assert.Equal(t, errkind.TypeImmutable, kind)
}

func TestPutEntityCombinesParentAndTypeViolations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := idgen.NewVersionClock("u1")
	v1 := clock.Next()
	require.NoError(t, s.PutEntity(ctx, newEntity("E1", v1, nil)))

	e2 := newEntity("E1", clock.Next(), nil) // no parents and a type change
	e2.EntityType = types.EntityDevice
	err := s.PutEntity(ctx, e2)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrParentUnknown)
	assert.ErrorIs(t, err, errkind.ErrTypeImmutable)
}

func TestPutEntityIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	v1 := idgen.NewVersionClock("u1").Next()
	e := newEntity("E1", v1, nil)
	require.NoError(t, s.PutEntity(ctx, e))
	require.NoError(t, s.PutEntity(ctx, e)) // P4: identical replay is a no-op
}

func TestPutEntityRejectsConflictingReplay(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	v1 := idgen.NewVersionClock("u1").Next()
	e := newEntity("E1", v1, nil)
	require.NoError(t, s.PutEntity(ctx, e))

	e2 := newEntity("E1", v1, nil)
	e2.Name = "Den"
	err := s.PutEntity(ctx, e2)
	require.Error(t, err)
	kind, _ := errkind.KindOf(err)
	assert.Equal(t, errkind.Conflict, kind)
}

func TestGetLatestTracksGreatestVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := idgen.NewVersionClock("u1")
	v1 := clock.Next()
	require.NoError(t, s.PutEntity(ctx, newEntity("E1", v1, nil)))
	v2 := clock.Next()
	e2 := newEntity("E1", v2, []string{v1})
	e2.Name = "Family Room"
	require.NoError(t, s.PutEntity(ctx, e2))

	latest, err := s.GetLatest(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, "Family Room", latest.Name)

	history, err := s.GetHistory(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func putRoom(t *testing.T, ctx context.Context, s *Store, clock *idgen.VersionClock, id string) *types.Entity {
	t.Helper()
	e := newEntity(id, clock.Next(), nil)
	e.EntityType = types.EntityRoom
	require.NoError(t, s.PutEntity(ctx, e))
	return e
}

func TestPutRelationshipRejectsCycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := idgen.NewVersionClock("u1")

	room1 := putRoom(t, ctx, s, clock, "R1")
	room2 := putRoom(t, ctx, s, clock, "R2")

	rel1 := &types.EntityRelationship{
		ID: "rel1", FromEntityID: "R1", FromEntityVersion: room1.Version,
		ToEntityID: "R2", ToEntityVersion: room2.Version, RelationshipType: types.RelLocatedIn,
		Properties: types.ValueMap{},
	}
	require.NoError(t, s.PutRelationship(ctx, rel1))

	rel2 := &types.EntityRelationship{
		ID: "rel2", FromEntityID: "R2", FromEntityVersion: room2.Version,
		ToEntityID: "R1", ToEntityVersion: room1.Version, RelationshipType: types.RelLocatedIn,
		Properties: types.ValueMap{},
	}
	err := s.PutRelationship(ctx, rel2)
	require.Error(t, err)
	kind, _ := errkind.KindOf(err)
	assert.Equal(t, errkind.InvalidArgument, kind)
}

func TestPutRelationshipIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := idgen.NewVersionClock("u1")

	room1 := putRoom(t, ctx, s, clock, "R1")
	room2 := putRoom(t, ctx, s, clock, "R2")

	rel := &types.EntityRelationship{
		ID: "rel1", FromEntityID: "R1", FromEntityVersion: room1.Version,
		ToEntityID: "R2", ToEntityVersion: room2.Version, RelationshipType: types.RelLocatedIn,
		Properties: types.ValueMap{}, UserID: "u1",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, s.PutRelationship(ctx, rel))
	// Replaying the identical relationship (as a sync retry or re-push would)
	// must be a no-op, not a primary-key violation.
	require.NoError(t, s.PutRelationship(ctx, rel))

	rels, err := s.ListRelationshipsFrom(ctx, "R1")
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestPutRelationshipRejectsConflictingReplay(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := idgen.NewVersionClock("u1")

	room1 := putRoom(t, ctx, s, clock, "R1")
	room2 := putRoom(t, ctx, s, clock, "R2")

	rel := &types.EntityRelationship{
		ID: "rel1", FromEntityID: "R1", FromEntityVersion: room1.Version,
		ToEntityID: "R2", ToEntityVersion: room2.Version, RelationshipType: types.RelLocatedIn,
		Properties: types.ValueMap{}, UserID: "u1",
	}
	require.NoError(t, s.PutRelationship(ctx, rel))

	changed := *rel
	changed.Properties = types.ValueMap{"note": types.StringValue("different")}
	err := s.PutRelationship(ctx, &changed)
	require.Error(t, err)
	kind, _ := errkind.KindOf(err)
	assert.Equal(t, errkind.Conflict, kind)
}

func TestChangesSinceRespectsVectorClock(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clockA := idgen.NewVersionClock("writerA")
	v1 := clockA.Next()
	require.NoError(t, s.PutEntity(ctx, newEntity("E1", v1, nil)))

	cs, err := s.ChangesSince(ctx, storage.VectorClock{})
	require.NoError(t, err)
	require.Len(t, cs.Entities, 1)

	peerClock := storage.VectorClock{"writerA": v1}
	cs2, err := s.ChangesSince(ctx, peerClock)
	require.NoError(t, err)
	assert.Empty(t, cs2.Entities, "peer that has seen v1 should receive nothing new")

	v2 := clockA.Next()
	e2 := newEntity("E1", v2, []string{v1})
	require.NoError(t, s.PutEntity(ctx, e2))

	cs3, err := s.ChangesSince(ctx, peerClock)
	require.NoError(t, err)
	require.Len(t, cs3.Entities, 1)
	assert.Equal(t, v2, cs3.Entities[0].Version)
}

func TestSearchScoresNameAndContent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := idgen.NewVersionClock("u1")
	e := newEntity("E1", clock.Next(), nil)
	e.Name = "Living Room"
	require.NoError(t, s.PutEntity(ctx, e))

	results, err := s.Search(ctx, "living", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].NameMatch)
}
