// Package sqlite is the persistent Graph Store backend (§6): entities,
// relationships, sync metadata, and auth config in a single SQLite database,
// opened via the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/idgen"
	"github.com/steveyegge/homegraph/internal/storage"
	"github.com/steveyegge/homegraph/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT NOT NULL,
	version TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	name TEXT NOT NULL,
	content_blob TEXT NOT NULL,
	source_type TEXT NOT NULL,
	user_id TEXT NOT NULL,
	parent_versions_blob TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (id, version)
);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_updated ON entities(updated_at);
CREATE INDEX IF NOT EXISTS idx_entities_id_created ON entities(id, created_at DESC);

CREATE TABLE IF NOT EXISTS entity_relationships (
	id TEXT PRIMARY KEY,
	from_entity_id TEXT NOT NULL,
	from_entity_version TEXT NOT NULL,
	to_entity_id TEXT NOT NULL,
	to_entity_version TEXT NOT NULL,
	relationship_type TEXT NOT NULL,
	properties_blob TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rel_from ON entity_relationships(from_entity_id);
CREATE INDEX IF NOT EXISTS idx_rel_to ON entity_relationships(to_entity_id);
CREATE INDEX IF NOT EXISTS idx_rel_type ON entity_relationships(relationship_type);

CREATE TABLE IF NOT EXISTS sync_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_latest (
	id TEXT PRIMARY KEY,
	version TEXT NOT NULL,
	entity_type TEXT NOT NULL
);
`

func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return errkind.Wrap(errkind.NotFound, err, op)
	}
	return errkind.Wrap(errkind.StoreUnavailable, err, op)
}

// Store is the SQLite-backed Graph Store.
type Store struct {
	db *sql.DB

	writeMu sync.Mutex // serializes multi-id writes per §5; per-id finer grain via idBuckets
	idMu    sync.Mutex
	buckets map[string]*sync.Mutex
}

// Open opens (creating if needed) the database at dataSourceName and applies
// the schema. dataSourceName is whatever modernc.org/sqlite accepts (a file
// path, or "file::memory:?cache=shared" for tests).
func Open(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "open database")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes at the connection level
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errkind.Wrap(errkind.StoreUnavailable, err, "apply schema")
	}
	return &Store{db: db, buckets: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) lockIDs(ids ...string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	s.idMu.Lock()
	var locks []*sync.Mutex
	var lastID string
	for i, id := range sorted {
		if i > 0 && id == lastID {
			continue
		}
		lastID = id
		l, ok := s.buckets[id]
		if !ok {
			l = &sync.Mutex{}
			s.buckets[id] = l
		}
		locks = append(locks, l)
	}
	s.idMu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func encodeContent(m types.ValueMap) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return string(b), nil
}

func decodeContent(blob string) (types.ValueMap, error) {
	var m types.ValueMap
	if blob == "" {
		return types.ValueMap{}, nil
	}
	if err := json.Unmarshal([]byte(blob), &m); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if m == nil {
		m = types.ValueMap{}
	}
	return m, nil
}

func encodeParents(parents []string) string {
	b, _ := json.Marshal(parents)
	return string(b)
}

func decodeParents(blob string) []string {
	var out []string
	_ = json.Unmarshal([]byte(blob), &out)
	return out
}

func (s *Store) PutEntity(ctx context.Context, entity *types.Entity) error {
	unlock := s.lockIDs(entity.ID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin put_entity tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingContent, existingType string
	err = tx.QueryRowContext(ctx, `SELECT content_blob, entity_type FROM entities WHERE id = ? AND version = ?`,
		entity.ID, entity.Version).Scan(&existingContent, &existingType)
	switch {
	case err == nil:
		fresh, encErr := encodeContent(entity.Content)
		if encErr != nil {
			return encErr
		}
		if fresh == existingContent {
			return nil // idempotent replay (P4)
		}
		return errkind.New(errkind.Conflict, "entity %s version %s already recorded with different content", entity.ID, entity.Version)
	case err != sql.ErrNoRows:
		return wrapDBError("check existing entity version", err)
	}

	var priorType string
	var hasPrior bool
	err = tx.QueryRowContext(ctx, `SELECT entity_type FROM entity_latest WHERE id = ?`, entity.ID).Scan(&priorType)
	if err == nil {
		hasPrior = true
	} else if err != sql.ErrNoRows {
		return wrapDBError("check prior entity_type", err)
	}
	var violations []error
	if hasPrior && priorType != string(entity.EntityType) {
		violations = append(violations, errkind.New(errkind.TypeImmutable, "entity %s: entity_type changed from %s to %s", entity.ID, priorType, entity.EntityType))
	}

	if len(entity.ParentVersions) == 0 {
		if hasPrior {
			violations = append(violations, errkind.New(errkind.ParentUnknown, "entity %s: non-initial version %s has no parents", entity.ID, entity.Version))
		}
	} else {
		for _, p := range entity.ParentVersions {
			var one int
			perr := tx.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ? AND version = ?`, entity.ID, p).Scan(&one)
			if perr == sql.ErrNoRows {
				violations = append(violations, errkind.New(errkind.ParentUnknown, "entity %s: parent version %s not found", entity.ID, p))
				break
			} else if perr != nil {
				return wrapDBError("check parent version", perr)
			}
		}
	}
	if len(violations) > 0 {
		return errkind.Combine(violations...)
	}

	contentBlob, err := encodeContent(entity.Content)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (
			id, version, entity_type, name, content_blob, source_type, user_id,
			parent_versions_blob, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entity.ID, entity.Version, string(entity.EntityType), entity.Name, contentBlob,
		string(entity.SourceType), entity.UserID, encodeParents(entity.ParentVersions),
		entity.CreatedAt.UnixNano(), entity.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return wrapDBError("insert entity version", err)
	}

	if !hasPrior || entity.Version > currentLatestVersion(ctx, tx, entity.ID) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entity_latest (id, version, entity_type) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET version = excluded.version, entity_type = excluded.entity_type
			WHERE excluded.version > entity_latest.version
		`, entity.ID, entity.Version, string(entity.EntityType))
		if err != nil {
			return wrapDBError("update latest projection", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("commit put_entity", err)
	}
	return nil
}

func currentLatestVersion(ctx context.Context, tx *sql.Tx, id string) string {
	var v string
	_ = tx.QueryRowContext(ctx, `SELECT version FROM entity_latest WHERE id = ?`, id).Scan(&v)
	return v
}

func scanEntity(row interface {
	Scan(dest ...interface{}) error
}) (*types.Entity, error) {
	var e types.Entity
	var entityType, sourceType, contentBlob, parentsBlob string
	var createdAt, updatedAt int64
	if err := row.Scan(&e.ID, &e.Version, &entityType, &e.Name, &contentBlob, &sourceType, &e.UserID, &parentsBlob, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.EntityType = types.EntityType(entityType)
	e.SourceType = types.SourceType(sourceType)
	e.ParentVersions = decodeParents(parentsBlob)
	content, err := decodeContent(contentBlob)
	if err != nil {
		return nil, err
	}
	e.Content = content
	e.CreatedAt = unixNanoTime(createdAt)
	e.UpdatedAt = unixNanoTime(updatedAt)
	return &e, nil
}

const entityColumns = `id, version, entity_type, name, content_blob, source_type, user_id, parent_versions_blob, created_at, updated_at`

func (s *Store) GetEntity(ctx context.Context, id, version string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ? AND version = ?`, id, version)
	e, err := scanEntity(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get entity %s@%s", id, version), err)
	}
	return e, nil
}

func (s *Store) GetLatest(ctx context.Context, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prefixed("e", entityColumns)+` FROM entities e
		JOIN entity_latest l ON l.id = e.id AND l.version = e.version
		WHERE e.id = ?
	`, id)
	e, err := scanEntity(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get latest entity %s", id), err)
	}
	return e, nil
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func (s *Store) ListEntities(ctx context.Context, filter storage.EntityFilter) ([]*types.Entity, error) {
	query := `SELECT ` + prefixed("e", entityColumns) + ` FROM entities e JOIN entity_latest l ON l.id = e.id AND l.version = e.version WHERE 1=1`
	var args []interface{}
	if filter.EntityType != "" {
		query += ` AND e.entity_type = ?`
		args = append(args, string(filter.EntityType))
	}
	if filter.NameSubstring != "" {
		query += ` AND e.name LIKE ? COLLATE NOCASE`
		args = append(args, "%"+filter.NameSubstring+"%")
	}
	if filter.ModifiedSince != nil {
		query += ` AND e.updated_at >= ?`
		args = append(args, *filter.ModifiedSince)
	}
	query += ` ORDER BY e.id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list entities", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, wrapDBError("scan entity row", err)
		}
		if !filter.IncludeDeleted && e.IsTombstone() {
			continue
		}
		out = append(out, e)
	}
	return out, wrapDBError("iterate entity rows", rows.Err())
}

func (s *Store) GetHistory(ctx context.Context, id string) ([]*types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ? ORDER BY version`, id)
	if err != nil {
		return nil, wrapDBError("get history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, wrapDBError("scan history row", err)
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, errkind.New(errkind.NotFound, "entity %s not found", id)
	}
	return out, wrapDBError("iterate history rows", rows.Err())
}

// Search mirrors the memory backend's scoring (§4.1) but runs the substring
// scan in Go after a broad LIKE prefilter, since content is a JSON blob and
// SQLite has no native JSON path index here.
func (s *Store) Search(ctx context.Context, query string, entityTypes []types.EntityType, topK int) ([]storage.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+prefixed("e", entityColumns)+` FROM entities e JOIN entity_latest l ON l.id = e.id AND l.version = e.version ORDER BY e.id`)
	if err != nil {
		return nil, wrapDBError("search entities", err)
	}
	defer func() { _ = rows.Close() }()

	allowed := make(map[types.EntityType]bool, len(entityTypes))
	for _, t := range entityTypes {
		allowed[t] = true
	}
	q := strings.ToLower(query)

	var results []storage.SearchResult
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, wrapDBError("scan search row", err)
		}
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
		results = append(results, storage.SearchResult{Entity: e, Score: score, NameMatch: nameMatch, FieldHits: hits})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate search rows", err)
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
	unlock := s.lockIDs(rel.FromEntityID, rel.ToEntityID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin put_relationship tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rel.ID != "" {
		row := tx.QueryRowContext(ctx, `SELECT `+relColumns+` FROM entity_relationships WHERE id = ?`, rel.ID)
		existing, scanErr := scanRelationship(row)
		switch scanErr {
		case nil:
			if relationshipsEqual(existing, rel) {
				return nil // idempotent replay (P4)
			}
			return errkind.New(errkind.Conflict, "relationship %s already recorded with different content", rel.ID)
		case sql.ErrNoRows:
			// not yet recorded, fall through to the insert below
		default:
			return wrapDBError("check existing relationship", scanErr)
		}
	}

	for _, endpoint := range []struct{ id, version string }{
		{rel.FromEntityID, rel.FromEntityVersion},
		{rel.ToEntityID, rel.ToEntityVersion},
	} {
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ? AND version = ?`, endpoint.id, endpoint.version).Scan(&one)
		if err == sql.ErrNoRows {
			return errkind.New(errkind.ParentUnknown, "relationship %s: endpoint %s@%s not found", rel.ID, endpoint.id, endpoint.version)
		} else if err != nil {
			return wrapDBError("check relationship endpoint", err)
		}
	}

	if types.TreeRelationshipTypes[rel.RelationshipType] {
		cyclic, err := s.wouldCreateCycle(ctx, tx, rel)
		if err != nil {
			return err
		}
		if cyclic {
			return errkind.New(errkind.InvalidArgument, "relationship %s: %s would create a cycle", rel.ID, rel.RelationshipType)
		}
	}

	if rel.ID == "" {
		rel.ID = idgen.NewRelationshipID()
	}
	propsBlob, err := encodeContent(rel.Properties)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_relationships (
			id, from_entity_id, from_entity_version, to_entity_id, to_entity_version,
			relationship_type, properties_blob, user_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rel.ID, rel.FromEntityID, rel.FromEntityVersion, rel.ToEntityID, rel.ToEntityVersion,
		string(rel.RelationshipType), propsBlob, rel.UserID, rel.CreatedAt.UnixNano(), rel.UpdatedAt.UnixNano())
	if err != nil {
		return wrapDBError("insert relationship", err)
	}

	return wrapDBError("commit put_relationship", tx.Commit())
}

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

func (s *Store) wouldCreateCycle(ctx context.Context, tx *sql.Tx, rel *types.EntityRelationship) (bool, error) {
	visited := map[string]bool{rel.ToEntityID: true}
	queue := []string{rel.ToEntityID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == rel.FromEntityID {
			return true, nil
		}
		rows, err := tx.QueryContext(ctx, `SELECT to_entity_id FROM entity_relationships WHERE from_entity_id = ? AND relationship_type = ?`, cur, string(rel.RelationshipType))
		if err != nil {
			return false, wrapDBError("cycle check query", err)
		}
		var next []string
		for rows.Next() {
			var to string
			if err := rows.Scan(&to); err != nil {
				_ = rows.Close()
				return false, wrapDBError("cycle check scan", err)
			}
			next = append(next, to)
		}
		_ = rows.Close()
		for _, to := range next {
			if !visited[to] {
				visited[to] = true
				queue = append(queue, to)
			}
		}
	}
	return false, nil
}

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entity_relationships WHERE id = ?`, id)
	return wrapDBError("delete relationship", err) // absent id is a no-op (P4)
}

const relColumns = `id, from_entity_id, from_entity_version, to_entity_id, to_entity_version, relationship_type, properties_blob, user_id, created_at, updated_at`

func scanRelationship(row interface {
	Scan(dest ...interface{}) error
}) (*types.EntityRelationship, error) {
	var r types.EntityRelationship
	var relType, propsBlob string
	var createdAt, updatedAt int64
	if err := row.Scan(&r.ID, &r.FromEntityID, &r.FromEntityVersion, &r.ToEntityID, &r.ToEntityVersion, &relType, &propsBlob, &r.UserID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.RelationshipType = types.RelationshipType(relType)
	props, err := decodeContent(propsBlob)
	if err != nil {
		return nil, err
	}
	r.Properties = props
	r.CreatedAt = unixNanoTime(createdAt)
	r.UpdatedAt = unixNanoTime(updatedAt)
	return &r, nil
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*types.EntityRelationship, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+relColumns+` FROM entity_relationships WHERE id = ?`, id)
	r, err := scanRelationship(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get relationship %s", id), err)
	}
	return r, nil
}

func (s *Store) listRelationshipsWhere(ctx context.Context, where string, arg interface{}) ([]*types.EntityRelationship, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relColumns+` FROM entity_relationships WHERE `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, wrapDBError("list relationships", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.EntityRelationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, wrapDBError("scan relationship row", err)
		}
		out = append(out, r)
	}
	return out, wrapDBError("iterate relationship rows", rows.Err())
}

func (s *Store) ListRelationshipsFrom(ctx context.Context, entityID string) ([]*types.EntityRelationship, error) {
	return s.listRelationshipsWhere(ctx, "from_entity_id = ?", entityID)
}

func (s *Store) ListRelationshipsTo(ctx context.Context, entityID string) ([]*types.EntityRelationship, error) {
	return s.listRelationshipsWhere(ctx, "to_entity_id = ?", entityID)
}

func (s *Store) ListRelationshipsByType(ctx context.Context, relType types.RelationshipType) ([]*types.EntityRelationship, error) {
	return s.listRelationshipsWhere(ctx, "relationship_type = ?", string(relType))
}

// ChangesSince scans every entity version and relationship, filtering by the
// per-writer comparison described in §4.1. For a store of this scale a full
// scan is acceptable; the writer id is embedded in the version string itself
// so no separate writer column is needed.
func (s *Store) ChangesSince(ctx context.Context, peerClock storage.VectorClock) (*storage.ChangeSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id, version`)
	if err != nil {
		return nil, wrapDBError("changes_since entities", err)
	}
	cs := &storage.ChangeSet{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			_ = rows.Close()
			return nil, wrapDBError("scan changes_since row", err)
		}
		_, writer, ok := idgen.ParseVersion(e.Version)
		if !ok {
			continue
		}
		known, present := peerClock[writer]
		if !present || known < e.Version {
			cs.Entities = append(cs.Entities, e)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapDBError("iterate changes_since rows", err)
	}
	_ = rows.Close()

	relRows, err := s.db.QueryContext(ctx, `SELECT `+relColumns+` FROM entity_relationships ORDER BY id`)
	if err != nil {
		return nil, wrapDBError("changes_since relationships", err)
	}
	defer func() { _ = relRows.Close() }()
	for relRows.Next() {
		r, err := scanRelationship(relRows)
		if err != nil {
			return nil, wrapDBError("scan changes_since relationship row", err)
		}
		cs.Relationships = append(cs.Relationships, r)
	}
	return cs, wrapDBError("iterate changes_since relationship rows", relRows.Err())
}
