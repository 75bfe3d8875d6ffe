// Package mcp implements the twelve MCP tools (§4.3) as a thin dispatch
// layer over the Graph Store and Graph Index: each tool validates its
// arguments, calls into storage/graphindex, and returns a uniform
// {ok, value|error} envelope with a stable error kind.
package mcp

import (
	"context"
	"time"

	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/graphindex"
	"github.com/steveyegge/homegraph/internal/idgen"
	"github.com/steveyegge/homegraph/internal/storage"
	"github.com/steveyegge/homegraph/internal/types"
)

// maxPathDepth bounds find_path's BFS so a pathological graph can't make a
// single tool call run unbounded.
const maxPathDepth = 64

// Service implements the tool bodies. It holds no MCP-SDK dependency so it
// can be unit tested directly; server.go adapts it to the SDK's tool shape.
type Service struct {
	Store   storage.Store
	Index   *graphindex.Index
	Clock   *idgen.VersionClock
}

// NewService constructs a Service backed by store/index, issuing new
// versions under writerID.
func NewService(store storage.Store, index *graphindex.Index, writerID string) *Service {
	return &Service{Store: store, Index: index, Clock: idgen.NewVersionClock(writerID)}
}

// GetDevicesInRoom implements tool 1.
func (s *Service) GetDevicesInRoom(ctx context.Context, roomID string) ([]*types.Entity, error) {
	if roomID == "" {
		return nil, errkind.New(errkind.InvalidArgument, "room_id is required")
	}
	ids := s.Index.Neighbors(roomID, graphindex.Incoming, types.RelLocatedIn)
	return s.fetchLatestByType(ctx, ids, types.EntityDevice)
}

// FindDeviceControls implements tool 2: capability descriptors live in the
// device's own content under the "capabilities" key.
func (s *Service) FindDeviceControls(ctx context.Context, deviceID string) ([]types.Value, error) {
	entity, err := s.Store.GetLatest(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if entity.EntityType != types.EntityDevice {
		return nil, errkind.New(errkind.InvalidArgument, "%s is not a device", deviceID)
	}
	caps, ok := entity.Content["capabilities"]
	if !ok {
		return nil, nil
	}
	list, ok := caps.List()
	if !ok {
		return []types.Value{caps}, nil
	}
	return list, nil
}

// GetRoomConnections implements tool 3: rooms reachable directly via
// connects_to, or transitively through a door entity linking two rooms.
func (s *Service) GetRoomConnections(ctx context.Context, roomID string) ([]*types.Entity, error) {
	if roomID == "" {
		return nil, errkind.New(errkind.InvalidArgument, "room_id is required")
	}
	seen := map[string]bool{roomID: true}
	var ids []string

	for _, id := range s.Index.Neighbors(roomID, graphindex.Both, types.RelConnectsTo) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, doorID := range s.Index.Neighbors(roomID, graphindex.Both, "") {
		door, err := s.Store.GetLatest(ctx, doorID)
		if err != nil || door.EntityType != types.EntityDoor {
			continue
		}
		for _, id := range s.Index.Neighbors(doorID, graphindex.Both, "") {
			if id == roomID || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return s.fetchLatestByType(ctx, ids, types.EntityRoom)
}

// SearchEntities implements tool 4.
func (s *Service) SearchEntities(ctx context.Context, query string, entityTypes []types.EntityType, topK int) ([]storage.SearchResult, error) {
	if query == "" {
		return nil, errkind.New(errkind.InvalidArgument, "query is required")
	}
	return s.Store.Search(ctx, query, entityTypes, topK)
}

// CreateEntity implements tool 5: mints the initial version for a new id.
func (s *Service) CreateEntity(ctx context.Context, entityType types.EntityType, name string, content types.ValueMap, userID string) (*types.Entity, error) {
	if name == "" {
		return nil, errkind.New(errkind.InvalidArgument, "name is required")
	}
	if userID == "" {
		return nil, errkind.New(errkind.InvalidArgument, "user_id is required")
	}
	now := time.Now()
	entity := &types.Entity{
		ID:         idgen.NewEntityID(string(entityType)),
		Version:    s.Clock.Next(),
		EntityType: entityType,
		Name:       name,
		Content:    content,
		SourceType: types.SourceManual,
		UserID:     userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Store.PutEntity(ctx, entity); err != nil {
		return nil, err
	}
	s.Index.OnEntityWritten(entity)
	return entity, nil
}

// CreateRelationship implements tool 6.
func (s *Service) CreateRelationship(ctx context.Context, fromID, toID string, relType types.RelationshipType, properties types.ValueMap) (*types.EntityRelationship, error) {
	from, err := s.Store.GetLatest(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.Store.GetLatest(ctx, toID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	rel := &types.EntityRelationship{
		ID:                idgen.NewRelationshipID(),
		FromEntityID:       from.ID,
		FromEntityVersion: from.Version,
		ToEntityID:        to.ID,
		ToEntityVersion:   to.Version,
		RelationshipType:  relType,
		Properties:        properties,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.Store.PutRelationship(ctx, rel); err != nil {
		return nil, err
	}
	s.Index.OnRelationshipWritten(rel)
	return rel, nil
}

// FindPath implements tool 7.
func (s *Service) FindPath(fromID, toID string) []string {
	return s.Index.Path(fromID, toID, maxPathDepth)
}

// EntityDetails is the result shape for tool 8.
type EntityDetails struct {
	Entity    *types.Entity
	Incoming  []*types.EntityRelationship
	Outgoing  []*types.EntityRelationship
}

// GetEntityDetails implements tool 8.
func (s *Service) GetEntityDetails(ctx context.Context, id string) (*EntityDetails, error) {
	entity, err := s.Store.GetLatest(ctx, id)
	if err != nil {
		return nil, err
	}
	outgoing, err := s.Store.ListRelationshipsFrom(ctx, id)
	if err != nil {
		return nil, err
	}
	incoming, err := s.Store.ListRelationshipsTo(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EntityDetails{Entity: entity, Incoming: incoming, Outgoing: outgoing}, nil
}

// FindSimilarEntities implements tool 9.
func (s *Service) FindSimilarEntities(id string, topK int) ([]graphindex.SimilarResult, error) {
	return s.Index.FindSimilar(id, topK)
}

// GetProceduresForDevice implements tool 10: procedures link to a device via
// a procedure_for edge running procedure -> device.
func (s *Service) GetProceduresForDevice(ctx context.Context, deviceID string) ([]*types.Entity, error) {
	ids := s.Index.Neighbors(deviceID, graphindex.Incoming, types.RelProcedureFor)
	return s.fetchLatestByType(ctx, ids, types.EntityProcedure)
}

// GetAutomationsInRoom implements tool 11: automations are located_in the room.
func (s *Service) GetAutomationsInRoom(ctx context.Context, roomID string) ([]*types.Entity, error) {
	ids := s.Index.Neighbors(roomID, graphindex.Incoming, types.RelLocatedIn)
	return s.fetchLatestByType(ctx, ids, types.EntityAutomation)
}

// UpdateEntity implements tool 12: the new version's sole parent is the
// current latest version, and its content is the existing map with each key
// in changes overwriting it; keys absent from changes are kept.
func (s *Service) UpdateEntity(ctx context.Context, id string, changes types.ValueMap, userID string) (*types.Entity, error) {
	current, err := s.Store.GetLatest(ctx, id)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	for k, v := range changes {
		next.Content[k] = v
	}
	next.Version = s.Clock.Next()
	next.ParentVersions = []string{current.Version}
	next.UserID = userID
	next.UpdatedAt = time.Now()

	if err := s.Store.PutEntity(ctx, next); err != nil {
		return nil, err
	}
	s.Index.OnEntityWritten(next)
	return next, nil
}

func (s *Service) fetchLatestByType(ctx context.Context, ids []string, want types.EntityType) ([]*types.Entity, error) {
	var out []*types.Entity
	for _, id := range ids {
		e, err := s.Store.GetLatest(ctx, id)
		if err != nil {
			if kind, ok := errkind.KindOf(err); ok && kind == errkind.NotFound {
				continue
			}
			return nil, err
		}
		if e.EntityType == want {
			out = append(out, e)
		}
	}
	return out, nil
}
