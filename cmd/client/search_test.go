package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/homegraph/internal/idgen"
	"github.com/steveyegge/homegraph/internal/types"
)

func TestSearchCommandFindsMatchingEntity(t *testing.T) {
	openTestReplica(t)

	now := time.Now()
	entity := &types.Entity{
		ID:         idgen.NewEntityID(string(types.EntityDevice)),
		Version:    clock.Next(),
		EntityType: types.EntityDevice,
		Name:       "Front Door Lock",
		SourceType: types.SourceManual,
		UserID:     userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.PutEntity(context.Background(), entity))
	index.OnEntityWritten(entity)

	out := captureStdout(t, func() {
		require.NoError(t, searchCmd.RunE(searchCmd, []string{"Front Door"}))
	})

	assert.True(t, strings.Contains(out, entity.ID))
	assert.True(t, strings.Contains(out, "Front Door Lock"))
}

func TestSearchCommandReportsNoMatches(t *testing.T) {
	openTestReplica(t)

	out := captureStdout(t, func() {
		require.NoError(t, searchCmd.RunE(searchCmd, []string{"nonexistent thing"}))
	})

	assert.True(t, strings.Contains(out, "no matches"))
}
