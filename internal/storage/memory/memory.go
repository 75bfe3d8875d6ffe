// Package memory is an in-process Store implementation used by tests and by
// the client replica, grounded on the same invariants as the sqlite backend
// but without persistence.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/idgen"
	"github.com/steveyegge/homegraph/internal/storage"
	"github.com/steveyegge/homegraph/internal/types"
)

// idMutexes serializes writes per entity id, in a fixed lexicographic
// acquisition order when a single write touches more than one id (§5).
type idMutexes struct {
	mu      sync.Mutex
	buckets map[string]*sync.Mutex
}

func newIDMutexes() *idMutexes {
	return &idMutexes{buckets: make(map[string]*sync.Mutex)}
}

func (m *idMutexes) lock(ids ...string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sorted = dedupeSorted(sorted)

	m.mu.Lock()
	locks := make([]*sync.Mutex, len(sorted))
	for i, id := range sorted {
		l, ok := m.buckets[id]
		if !ok {
			l = &sync.Mutex{}
			m.buckets[id] = l
		}
		locks[i] = l
	}
	m.mu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func dedupeSorted(s []string) []string {
	out := s[:0]
	var last string
	first := true
	for _, v := range s {
		if first || v != last {
			out = append(out, v)
			last = v
			first = false
		}
	}
	return out
}

// Store is an in-memory Graph Store.
type Store struct {
	locks *idMutexes

	mu            sync.RWMutex
	versions      map[string]map[string]*types.Entity // id -> version -> entity
	latest        map[string]string                   // id -> latest version string
	entityTypes   map[string]types.EntityType          // id -> entity_type (immutability check)
	relationships map[string]*types.EntityRelationship
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		locks:         newIDMutexes(),
		versions:      make(map[string]map[string]*types.Entity),
		latest:        make(map[string]string),
		entityTypes:   make(map[string]types.EntityType),
		relationships: make(map[string]*types.EntityRelationship),
	}
}

func (s *Store) PutEntity(ctx context.Context, entity *types.Entity) error {
	unlock := s.locks.lock(entity.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, exists := s.versions[entity.ID]
	if !exists {
		versions = make(map[string]*types.Entity)
		s.versions[entity.ID] = versions
	}

	if existing, ok := versions[entity.Version]; ok {
		if entitiesEqual(existing, entity) {
			return nil // idempotent replay (P4)
		}
		return errkind.New(errkind.Conflict, "entity %s version %s already recorded with different content", entity.ID, entity.Version)
	}

	var violations []error
	if len(entity.ParentVersions) > 0 {
		for _, p := range entity.ParentVersions {
			if _, ok := versions[p]; !ok {
				violations = append(violations, errkind.New(errkind.ParentUnknown, "entity %s: parent version %s not found", entity.ID, p))
				break
			}
		}
	} else if exists && len(versions) > 0 {
		violations = append(violations, errkind.New(errkind.ParentUnknown, "entity %s: non-initial version %s has no parents", entity.ID, entity.Version))
	}

	if priorType, ok := s.entityTypes[entity.ID]; ok && priorType != entity.EntityType {
		violations = append(violations, errkind.New(errkind.TypeImmutable, "entity %s: entity_type changed from %s to %s", entity.ID, priorType, entity.EntityType))
	}
	if len(violations) > 0 {
		return errkind.Combine(violations...)
	}
	s.entityTypes[entity.ID] = entity.EntityType

	versions[entity.Version] = entity.Clone()

	if cur, ok := s.latest[entity.ID]; !ok || entity.Version > cur {
		s.latest[entity.ID] = entity.Version
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, id, version string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.versions[id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "entity %s not found", id)
	}
	e, ok := versions[version]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "entity %s version %s not found", id, version)
	}
	return e.Clone(), nil
}

func (s *Store) GetLatest(ctx context.Context, id string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.latest[id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "entity %s not found", id)
	}
	return s.versions[id][v].Clone(), nil
}

func (s *Store) ListEntities(ctx context.Context, filter storage.EntityFilter) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.latest))
	for id := range s.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*types.Entity
	for _, id := range ids {
		e := s.versions[id][s.latest[id]]
		if !filter.IncludeDeleted && e.IsTombstone() {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.NameSubstring != "" && !strings.Contains(strings.ToLower(e.Name), strings.ToLower(filter.NameSubstring)) {
			continue
		}
		if filter.ModifiedSince != nil && e.UpdatedAt.UnixNano() < *filter.ModifiedSince {
			continue
		}
		out = append(out, e.Clone())
	}

	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) GetHistory(ctx context.Context, id string) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.versions[id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "entity %s not found", id)
	}
	out := make([]*types.Entity, 0, len(versions))
	for _, e := range versions {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Search scores entities by substring matches over name and stringified
// content, per §4.1: sum of field matches with a small bonus for exact name
// matches.
func (s *Store) Search(ctx context.Context, query string, entityTypes []types.EntityType, topK int) ([]storage.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[types.EntityType]bool, len(entityTypes))
	for _, t := range entityTypes {
		allowed[t] = true
	}
	q := strings.ToLower(query)

	ids := make([]string, 0, len(s.latest))
	for id := range s.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []storage.SearchResult
	for _, id := range ids {
		e := s.versions[id][s.latest[id]]
		if e.IsTombstone() {
			continue
		}
		if len(allowed) > 0 && !allowed[e.EntityType] {
			continue
		}
		hits := 0
		nameMatch := strings.Contains(strings.ToLower(e.Name), q)
		if nameMatch {
			hits++
		}
		for _, k := range e.Content.Keys() {
			if strings.Contains(strings.ToLower(e.Content[k].Text()), q) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits)
		if nameMatch && strings.EqualFold(e.Name, query) {
			score += 1.0
		}
		results = append(results, storage.SearchResult{Entity: e.Clone(), Score: score, NameMatch: nameMatch, FieldHits: hits})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) PutRelationship(ctx context.Context, rel *types.EntityRelationship) error {
	unlock := s.locks.lock(rel.FromEntityID, rel.ToEntityID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if rel.ID != "" {
		if existing, ok := s.relationships[rel.ID]; ok {
			if relationshipsEqual(existing, rel) {
				return nil // idempotent replay (P4)
			}
			return errkind.New(errkind.Conflict, "relationship %s already recorded with different content", rel.ID)
		}
	}

	if _, ok := s.versions[rel.FromEntityID][rel.FromEntityVersion]; !ok {
		return errkind.New(errkind.ParentUnknown, "relationship %s: from-endpoint %s@%s not found", rel.ID, rel.FromEntityID, rel.FromEntityVersion)
	}
	if _, ok := s.versions[rel.ToEntityID][rel.ToEntityVersion]; !ok {
		return errkind.New(errkind.ParentUnknown, "relationship %s: to-endpoint %s@%s not found", rel.ID, rel.ToEntityID, rel.ToEntityVersion)
	}

	if types.TreeRelationshipTypes[rel.RelationshipType] {
		if s.wouldCreateCycleLocked(rel) {
			return errkind.New(errkind.InvalidArgument, "relationship %s: %s would create a cycle", rel.ID, rel.RelationshipType)
		}
	}

	if rel.ID == "" {
		rel.ID = idgen.NewRelationshipID()
	}
	s.relationships[rel.ID] = rel
	return nil
}

// wouldCreateCycleLocked walks tree-typed edges from rel.ToEntityID looking
// for a path back to rel.FromEntityID. Caller holds s.mu.
func (s *Store) wouldCreateCycleLocked(rel *types.EntityRelationship) bool {
	visited := map[string]bool{rel.ToEntityID: true}
	queue := []string{rel.ToEntityID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == rel.FromEntityID {
			return true
		}
		for _, r := range s.relationships {
			if r.RelationshipType != rel.RelationshipType || r.FromEntityID != cur {
				continue
			}
			if !visited[r.ToEntityID] {
				visited[r.ToEntityID] = true
				queue = append(queue, r.ToEntityID)
			}
		}
	}
	return false
}

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.relationships, id) // already-absent delete is a no-op (P4)
	return nil
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*types.EntityRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relationships[id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "relationship %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRelationshipsFrom(ctx context.Context, entityID string) ([]*types.EntityRelationship, error) {
	return s.filterRelationships(func(r *types.EntityRelationship) bool { return r.FromEntityID == entityID }), nil
}

func (s *Store) ListRelationshipsTo(ctx context.Context, entityID string) ([]*types.EntityRelationship, error) {
	return s.filterRelationships(func(r *types.EntityRelationship) bool { return r.ToEntityID == entityID }), nil
}

func (s *Store) ListRelationshipsByType(ctx context.Context, relType types.RelationshipType) ([]*types.EntityRelationship, error) {
	return s.filterRelationships(func(r *types.EntityRelationship) bool { return r.RelationshipType == relType }), nil
}

func (s *Store) filterRelationships(pred func(*types.EntityRelationship) bool) []*types.EntityRelationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.EntityRelationship
	for _, r := range s.relationships {
		if pred(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChangesSince returns every version not "observed" by peerClock: a version v
// from writer w is unobserved if w is absent from peerClock or peerClock[w] <
// v lexicographically (§4.1).
func (s *Store) ChangesSince(ctx context.Context, peerClock storage.VectorClock) (*storage.ChangeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs := &storage.ChangeSet{}
	ids := make([]string, 0, len(s.versions))
	for id := range s.versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		versions := make([]string, 0, len(s.versions[id]))
		for v := range s.versions[id] {
			versions = append(versions, v)
		}
		sort.Strings(versions)
		for _, v := range versions {
			e := s.versions[id][v]
			_, writer, ok := versionWriter(v)
			if !ok {
				continue
			}
			known, present := peerClock[writer]
			if !present || known < v {
				cs.Entities = append(cs.Entities, e.Clone())
			}
		}
	}

	relIDs := make([]string, 0, len(s.relationships))
	for id := range s.relationships {
		relIDs = append(relIDs, id)
	}
	sort.Strings(relIDs)
	for _, id := range relIDs {
		cp := *s.relationships[id]
		cs.Relationships = append(cs.Relationships, &cp)
	}
	return cs, nil
}

func (s *Store) Close() error { return nil }

func relationshipsEqual(a, b *types.EntityRelationship) bool {
	if a.FromEntityID != b.FromEntityID || a.FromEntityVersion != b.FromEntityVersion ||
		a.ToEntityID != b.ToEntityID || a.ToEntityVersion != b.ToEntityVersion ||
		a.RelationshipType != b.RelationshipType || a.UserID != b.UserID {
		return false
	}
	if len(a.Properties) != len(b.Properties) {
		return false
	}
	for k, v := range a.Properties {
		bv, ok := b.Properties[k]
		if !ok || !v.Equal(bv) {
			return false
		}
	}
	return true
}

func entitiesEqual(a, b *types.Entity) bool {
	if a.ID != b.ID || a.Version != b.Version || a.EntityType != b.EntityType || a.Name != b.Name {
		return false
	}
	if len(a.Content) != len(b.Content) {
		return false
	}
	for k, v := range a.Content {
		bv, ok := b.Content[k]
		if !ok || !v.Equal(bv) {
			return false
		}
	}
	return true
}

func versionWriter(version string) (int64, string, bool) {
	return idgen.ParseVersion(version)
}
