// Package graphindex holds the in-memory adjacency index (§4.2): BFS path
// finding, neighbor listing, bounded subgraphs, and similarity search over
// the latest version of every entity. It is a cache only — the Graph Store
// remains the source of truth, and the index is rebuilt wholesale on startup
// and updated incrementally inside the same write path as each store commit
// (DESIGN NOTES §9 "index coherence").
package graphindex

import (
	"context"
	"sort"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/storage"
	"github.com/steveyegge/homegraph/internal/types"
)

// Direction selects which edges neighbors() follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

type edge struct {
	rel    *types.EntityRelationship
	seq    int // insertion order, for BFS tie-breaking
}

// Index is a shared, RWMutex-guarded adjacency structure over the latest
// entity versions and every relationship.
type Index struct {
	store storage.Store

	mu        sync.RWMutex
	entities  map[string]*types.Entity // id -> latest version
	outEdges  map[string][]edge
	inEdges   map[string][]edge
	seqCursor int

	subgraphCache *lru.Cache[string, []*SubgraphResult]
	similarCache  *lru.Cache[string, []SimilarResult]
}

// New constructs an empty index. Call Rebuild before serving traffic.
func New(store storage.Store) *Index {
	subgraphCache, _ := lru.New[string, []*SubgraphResult](256)
	similarCache, _ := lru.New[string, []SimilarResult](256)
	return &Index{
		store:         store,
		entities:      make(map[string]*types.Entity),
		outEdges:      make(map[string][]edge),
		inEdges:       make(map[string][]edge),
		subgraphCache: subgraphCache,
		similarCache:  similarCache,
	}
}

// Rebuild discards the current index and reloads it from the store.
func (idx *Index) Rebuild(ctx context.Context) error {
	entities, err := idx.store.ListEntities(ctx, storage.EntityFilter{IncludeDeleted: false, Limit: 0})
	if err != nil {
		return errkind.Wrap(errkind.StoreUnavailable, err, "rebuild index: list entities")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entities = make(map[string]*types.Entity, len(entities))
	idx.outEdges = make(map[string][]edge)
	idx.inEdges = make(map[string][]edge)
	idx.seqCursor = 0
	idx.subgraphCache.Purge()
	idx.similarCache.Purge()

	for _, e := range entities {
		idx.entities[e.ID] = e
	}

	for _, e := range entities {
		rels, err := idx.store.ListRelationshipsFrom(ctx, e.ID)
		if err != nil {
			return errkind.Wrap(errkind.StoreUnavailable, err, "rebuild index: list relationships")
		}
		for _, r := range rels {
			idx.addEdgeLocked(r)
		}
	}
	return nil
}

func (idx *Index) addEdgeLocked(r *types.EntityRelationship) {
	ed := edge{rel: r, seq: idx.seqCursor}
	idx.seqCursor++
	idx.outEdges[r.FromEntityID] = append(idx.outEdges[r.FromEntityID], ed)
	idx.inEdges[r.ToEntityID] = append(idx.inEdges[r.ToEntityID], ed)
}

// OnEntityWritten updates the index's view of an entity's latest version.
// Call this inside the same write path as the store commit it mirrors.
func (idx *Index) OnEntityWritten(e *types.Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cur, ok := idx.entities[e.ID]
	if !ok || e.Version > cur.Version {
		if e.IsTombstone() {
			delete(idx.entities, e.ID)
		} else {
			idx.entities[e.ID] = e
		}
		idx.invalidateCachesLocked()
	}
}

// OnRelationshipWritten adds a new edge to the index.
func (idx *Index) OnRelationshipWritten(r *types.EntityRelationship) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addEdgeLocked(r)
	idx.invalidateCachesLocked()
}

// OnRelationshipDeleted removes an edge by id from both adjacency maps.
func (idx *Index) OnRelationshipDeleted(relID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id, edges := range idx.outEdges {
		idx.outEdges[id] = removeByID(edges, relID)
	}
	for id, edges := range idx.inEdges {
		idx.inEdges[id] = removeByID(edges, relID)
	}
	idx.invalidateCachesLocked()
}

func removeByID(edges []edge, relID string) []edge {
	out := edges[:0]
	for _, e := range edges {
		if e.rel.ID != relID {
			out = append(out, e)
		}
	}
	return out
}

func (idx *Index) invalidateCachesLocked() {
	idx.subgraphCache.Purge()
	idx.similarCache.Purge()
}

// Neighbors returns the distinct entity ids reachable by one hop from id in
// the given direction, optionally filtered by relationship type.
func (idx *Index) Neighbors(id string, dir Direction, relType types.RelationshipType) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := map[string]bool{}
	var out []string
	add := func(edges []edge, other func(edge) string) {
		for _, e := range edges {
			if relType != "" && e.rel.RelationshipType != relType {
				continue
			}
			o := other(e)
			if !seen[o] {
				seen[o] = true
				out = append(out, o)
			}
		}
	}
	if dir == Outgoing || dir == Both {
		add(idx.outEdges[id], func(e edge) string { return e.rel.ToEntityID })
	}
	if dir == Incoming || dir == Both {
		add(idx.inEdges[id], func(e edge) string { return e.rel.FromEntityID })
	}
	sort.Strings(out)
	return out
}

// Path runs unweighted BFS from fromID to toID, tie-broken by edge insertion
// order, stopping at maxDepth hops. Returns [fromID] if from==to, or nil if
// no path exists within maxDepth.
func (idx *Index) Path(fromID, toID string, maxDepth int) []string {
	if fromID == toID {
		return []string{fromID}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type frame struct {
		id   string
		path []string
	}
	visited := map[string]bool{fromID: true}
	queue := []frame{{fromID, []string{fromID}}}

	for depth := 0; len(queue) > 0 && depth < maxDepth; depth++ {
		var next []frame
		for _, f := range queue {
			edges := append([]edge(nil), idx.outEdges[f.id]...)
			sort.Slice(edges, func(i, j int) bool { return edges[i].seq < edges[j].seq })
			for _, e := range edges {
				to := e.rel.ToEntityID
				if visited[to] {
					continue
				}
				visited[to] = true
				newPath := append(append([]string(nil), f.path...), to)
				if to == toID {
					return newPath
				}
				next = append(next, frame{to, newPath})
			}
		}
		queue = next
	}
	return nil
}

// SubgraphResult is one entity reached while exploring a bounded subgraph.
type SubgraphResult struct {
	Entity *types.Entity
	Depth  int
}

// Subgraph returns every entity reachable within radius hops of id (outgoing
// and incoming), plus the relationships among the returned set.
func (idx *Index) Subgraph(id string, radius int) ([]*SubgraphResult, []*types.EntityRelationship) {
	cacheKey := cacheKeyForRadius(id, radius)
	idx.mu.RLock()
	if cached, ok := idx.subgraphCache.Get(cacheKey); ok {
		rels := idx.relationshipsAmongLocked(cached)
		idx.mu.RUnlock()
		return cloneSubgraphResults(cached), rels
	}
	idx.mu.RUnlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	visited := map[string]int{id: 0}
	order := []string{id}
	queue := []string{id}
	for depth := 0; len(queue) > 0 && depth < radius; depth++ {
		var next []string
		for _, cur := range queue {
			for _, e := range idx.outEdges[cur] {
				if _, ok := visited[e.rel.ToEntityID]; !ok {
					visited[e.rel.ToEntityID] = depth + 1
					order = append(order, e.rel.ToEntityID)
					next = append(next, e.rel.ToEntityID)
				}
			}
			for _, e := range idx.inEdges[cur] {
				if _, ok := visited[e.rel.FromEntityID]; !ok {
					visited[e.rel.FromEntityID] = depth + 1
					order = append(order, e.rel.FromEntityID)
					next = append(next, e.rel.FromEntityID)
				}
			}
		}
		queue = next
	}

	var out []*SubgraphResult
	for _, eid := range order {
		if e, ok := idx.entities[eid]; ok {
			out = append(out, &SubgraphResult{Entity: e, Depth: visited[eid]})
		}
	}
	idx.subgraphCache.Add(cacheKey, out)
	return cloneSubgraphResults(out), idx.relationshipsAmongLocked(out)
}

func cloneSubgraphResults(in []*SubgraphResult) []*SubgraphResult {
	return append([]*SubgraphResult(nil), in...)
}

func (idx *Index) relationshipsAmongLocked(results []*SubgraphResult) []*types.EntityRelationship {
	members := map[string]bool{}
	for _, r := range results {
		members[r.Entity.ID] = true
	}
	seen := map[string]bool{}
	var out []*types.EntityRelationship
	for id := range members {
		for _, e := range idx.outEdges[id] {
			if members[e.rel.ToEntityID] && !seen[e.rel.ID] {
				seen[e.rel.ID] = true
				out = append(out, e.rel)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SimilarResult pairs an entity with its similarity score to the query entity.
type SimilarResult struct {
	Entity *types.Entity
	Score  float64
}

// FindSimilar ranks entities of the same type as id by Jaccard similarity
// over content keys, with a bonus per key where values are also equal;
// ties break deterministically on entity id (§4.2).
func (idx *Index) FindSimilar(id string, topK int) ([]SimilarResult, error) {
	cacheKey := cacheKeyForRadius(id, topK)
	idx.mu.RLock()
	if cached, ok := idx.similarCache.Get(cacheKey); ok {
		idx.mu.RUnlock()
		return append([]SimilarResult(nil), cached...), nil
	}

	target, ok := idx.entities[id]
	if !ok {
		idx.mu.RUnlock()
		return nil, errkind.New(errkind.NotFound, "entity %s not found", id)
	}

	targetKeys := keySet(target.Content)
	var results []SimilarResult
	for otherID, other := range idx.entities {
		if otherID == id || other.EntityType != target.EntityType {
			continue
		}
		otherKeys := keySet(other.Content)
		score := jaccard(targetKeys, otherKeys)
		for k := range targetKeys {
			if otherKeys[k] {
				if v1, ok1 := target.Content[k]; ok1 {
					if v2, ok2 := other.Content[k]; ok2 && v1.Equal(v2) {
						score += 0.1
					}
				}
			}
		}
		if score > 0 {
			results = append(results, SimilarResult{Entity: other, Score: score})
		}
	}
	idx.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}

	idx.mu.Lock()
	idx.similarCache.Add(cacheKey, results)
	idx.mu.Unlock()
	return append([]SimilarResult(nil), results...), nil
}

func keySet(m types.ValueMap) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func cacheKeyForRadius(id string, n int) string {
	return id + "#" + strconv.Itoa(n)
}
