package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/homegraph/internal/types"
)

// fakeHistory is a minimal id -> version -> parents map for exercising
// IsAncestor/DetectConflict without a real store.
type fakeHistory map[string]map[string][]string

func (h fakeHistory) parentsOf(_ context.Context, id, version string) ([]string, error) {
	return h[id][version], nil
}

func TestDetectConflictLinearAccept(t *testing.T) {
	ctx := context.Background()
	history := fakeHistory{"E": {
		"v1": nil,
		"v2": {"v1"},
	}}
	local := &types.Entity{ID: "E", Version: "v1"}
	remote := &types.Entity{ID: "E", Version: "v2", ParentVersions: []string{"v1"}}

	rel, err := DetectConflict(ctx, "E", local, remote, history.parentsOf)
	require.NoError(t, err)
	assert.Equal(t, RelationLinearAccept, rel)
}

func TestDetectConflictAlreadySubsumed(t *testing.T) {
	ctx := context.Background()
	history := fakeHistory{"E": {
		"v1": nil,
		"v2": {"v1"},
	}}
	local := &types.Entity{ID: "E", Version: "v2", ParentVersions: []string{"v1"}}
	remote := &types.Entity{ID: "E", Version: "v1"}

	rel, err := DetectConflict(ctx, "E", local, remote, history.parentsOf)
	require.NoError(t, err)
	assert.Equal(t, RelationAlreadySubsumed, rel)
}

func TestDetectConflictDiverge(t *testing.T) {
	ctx := context.Background()
	history := fakeHistory{"E": {
		"v0":  nil,
		"v1a": {"v0"},
		"v1b": {"v0"},
	}}
	local := &types.Entity{ID: "E", Version: "v1a", ParentVersions: []string{"v0"}}
	remote := &types.Entity{ID: "E", Version: "v1b", ParentVersions: []string{"v0"}}

	rel, err := DetectConflict(ctx, "E", local, remote, history.parentsOf)
	require.NoError(t, err)
	assert.Equal(t, RelationDiverge, rel)
}

func TestBuildMergedEntityFieldRules(t *testing.T) {
	local := &types.Entity{
		ID: "D1", Version: "0000000000000000100-u1", Name: "Lamp",
		Content: types.ValueMap{
			"is_reachable": types.BoolValue(false),
			"capabilities": types.ListValue(types.StringValue("on"), types.StringValue("off")),
		},
	}
	remote := &types.Entity{
		ID: "D1", Version: "0000000000000000200-u2", Name: "Living Room Lamp",
		Content: types.ValueMap{
			"is_reachable": types.BoolValue(true),
			"capabilities": types.ListValue(types.StringValue("off"), types.StringValue("dim")),
		},
	}

	merged := BuildMergedEntity(local, remote, "0000000000000000300-server")
	assert.Equal(t, "Living Room Lamp", merged.Name, "longer name wins")

	reachable, ok := merged.Content["is_reachable"].Bool()
	require.True(t, ok)
	assert.True(t, reachable, "boolean availability fields OR together")

	caps, ok := merged.Content["capabilities"].List()
	require.True(t, ok)
	assert.Len(t, caps, 3, "list-valued fields union")

	assert.Equal(t, []string{"0000000000000000100-u1", "0000000000000000200-u2"}, merged.ParentVersions)
}

func TestBuildMergedEntityDeletionWins(t *testing.T) {
	local := &types.Entity{ID: "D1", Version: "v1", Content: types.ValueMap{"name": types.StringValue("x")}}
	remote := &types.Entity{ID: "D1", Version: "v2", Content: types.ValueMap{types.DeletedMarkerKey: types.BoolValue(true)}}

	merged := BuildMergedEntity(local, remote, "v3")
	assert.True(t, merged.IsTombstone())
}

func TestGreaterVersionPicksLexicographicMax(t *testing.T) {
	assert.Equal(t, "b", GreaterVersion("a", "b"))
	assert.Equal(t, "b", GreaterVersion("b", "a"))
}
