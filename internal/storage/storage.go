// Package storage defines the Graph Store contract (§4.1): persistent CRUD
// over entity versions and relationships, history, and change-set queries
// for the sync layer. Concrete backends live in sqlite and memory.
package storage

import (
	"context"

	"github.com/steveyegge/homegraph/internal/types"
)

// EntityFilter constrains list_entities.
type EntityFilter struct {
	EntityType     types.EntityType
	NameSubstring  string
	ModifiedSince  *int64 // unix nano; nil means no lower bound
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// SearchResult pairs an entity with its match score breakdown.
type SearchResult struct {
	Entity     *types.Entity
	Score      float64
	NameMatch  bool
	FieldHits  int
}

// ChangeSet is what changes_since returns: every entity version the peer has
// not yet observed, given its vector clock, plus every stored relationship
// (relationships carry no version, so they are not filtered by the clock).
type ChangeSet struct {
	Entities      []*types.Entity
	Relationships []*types.EntityRelationship
}

// VectorClock maps writer id to the greatest version string seen from that
// writer on this replica.
type VectorClock map[string]string

// Store is the Graph Store interface (§4.1). Implementations must serialize
// writes per entity id (§5) and surface invariant violations as *errkind.Error
// with ParentUnknown/TypeImmutable/Conflict kinds, and transient faults as
// StoreUnavailable.
type Store interface {
	PutEntity(ctx context.Context, entity *types.Entity) error
	GetEntity(ctx context.Context, id, version string) (*types.Entity, error)
	GetLatest(ctx context.Context, id string) (*types.Entity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]*types.Entity, error)
	GetHistory(ctx context.Context, id string) ([]*types.Entity, error)
	Search(ctx context.Context, query string, entityTypes []types.EntityType, topK int) ([]SearchResult, error)

	PutRelationship(ctx context.Context, rel *types.EntityRelationship) error
	DeleteRelationship(ctx context.Context, id string) error
	GetRelationship(ctx context.Context, id string) (*types.EntityRelationship, error)
	ListRelationshipsFrom(ctx context.Context, entityID string) ([]*types.EntityRelationship, error)
	ListRelationshipsTo(ctx context.Context, entityID string) ([]*types.EntityRelationship, error)
	ListRelationshipsByType(ctx context.Context, relType types.RelationshipType) ([]*types.EntityRelationship, error)

	ChangesSince(ctx context.Context, peerClock VectorClock) (*ChangeSet, error)

	Close() error
}
