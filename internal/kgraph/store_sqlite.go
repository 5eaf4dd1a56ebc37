package kgraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend implements Backend over a two-table SQLite database,
// selected by MEMORY_STORAGE_TYPE=sqlite. Unlike the JSONL backend it
// needs no tombstone records: a SQL DELETE is already durable across
// reloads. Grounded on the teacher's SQLiteAuditLogger (path
// expansion, sql.Open("sqlite3", ...), schema-init-on-construct).
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if absent) the database at path
// and ensures its schema exists.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	path = expandPath(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapErr(KindStorageWrite, "create sqlite directory", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, wrapErr(KindStorageWrite, "open sqlite database", err)
	}
	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, wrapErr(KindStorageWrite, "initialize sqlite schema", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		name TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		observations TEXT NOT NULL,
		tags TEXT NOT NULL,
		importance REAL,
		parent_id TEXT,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_modified DATETIME NOT NULL,
		last_accessed DATETIME,
		access_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS relations (
		"from" TEXT NOT NULL,
		"to" TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_modified DATETIME NOT NULL,
		PRIMARY KEY ("from", "to", relation_type)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
	CREATE INDEX IF NOT EXISTS idx_relations_from ON relations("from");
	CREATE INDEX IF NOT EXISTS idx_relations_to ON relations("to");
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) Load(ctx context.Context) (*Graph, error) {
	g := &Graph{}

	rows, err := b.db.QueryContext(ctx, `SELECT name, entity_type, observations, tags, importance,
		parent_id, payload, created_at, last_modified, last_accessed, access_count FROM entities`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		e := &Entity{}
		var observationsJSON, tagsJSON, payloadJSON string
		var importance sql.NullFloat64
		var parentID sql.NullString
		var lastAccessed sql.NullTime
		if err := rows.Scan(&e.Name, &e.EntityType, &observationsJSON, &tagsJSON, &importance,
			&parentID, &payloadJSON, &e.CreatedAt, &e.LastModified, &lastAccessed, &e.AccessCount); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(observationsJSON), &e.Observations); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			rows.Close()
			return nil, err
		}
		if payloadJSON != "" && payloadJSON != "null" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				rows.Close()
				return nil, err
			}
		}
		if importance.Valid {
			v := importance.Float64
			e.Importance = &v
		}
		if parentID.Valid {
			e.ParentID = parentID.String
		}
		if lastAccessed.Valid {
			e.LastAccessed = lastAccessed.Time
		}
		g.Entities = append(g.Entities, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	relRows, err := b.db.QueryContext(ctx, `SELECT "from", "to", relation_type, created_at, last_modified FROM relations`)
	if err != nil {
		return nil, err
	}
	defer relRows.Close()
	for relRows.Next() {
		r := &Relation{}
		if err := relRows.Scan(&r.From, &r.To, &r.RelationType, &r.CreatedAt, &r.LastModified); err != nil {
			return nil, err
		}
		g.Relations = append(g.Relations, r)
	}
	return g, relRows.Err()
}

func (b *SQLiteBackend) Save(ctx context.Context, g *Graph) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relations`); err != nil {
		return err
	}
	for _, e := range g.Entities {
		if err := upsertEntityTx(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, r := range g.Relations {
		if err := upsertRelationTx(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) AppendEntity(ctx context.Context, e *Entity) error {
	return upsertEntityTx(ctx, b.db, e)
}

func (b *SQLiteBackend) AppendRelation(ctx context.Context, r *Relation) error {
	return upsertRelationTx(ctx, b.db, r)
}

func (b *SQLiteBackend) DeleteEntity(ctx context.Context, name string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM entities WHERE name = ?`, name)
	return err
}

func (b *SQLiteBackend) DeleteRelation(ctx context.Context, key RelationKey) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM relations WHERE "from" = ? AND "to" = ? AND relation_type = ?`,
		key.From, key.To, key.RelationType)
	return err
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

// sqlExecer is satisfied by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertEntityTx(ctx context.Context, ex sqlExecer, e *Entity) error {
	observationsJSON, err := json.Marshal(e.Observations)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return err
	}
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	var importance any
	if e.Importance != nil {
		importance = *e.Importance
	}
	var parentID any
	if e.ParentID != "" {
		parentID = e.ParentID
	}
	var lastAccessed any
	if !e.LastAccessed.IsZero() {
		lastAccessed = e.LastAccessed
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO entities
		(name, entity_type, observations, tags, importance, parent_id, payload, created_at, last_modified, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			entity_type=excluded.entity_type, observations=excluded.observations, tags=excluded.tags,
			importance=excluded.importance, parent_id=excluded.parent_id, payload=excluded.payload,
			last_modified=excluded.last_modified, last_accessed=excluded.last_accessed, access_count=excluded.access_count`,
		e.Name, e.EntityType, string(observationsJSON), string(tagsJSON), importance, parentID,
		string(payloadJSON), e.CreatedAt, e.LastModified, lastAccessed, e.AccessCount)
	return err
}

func upsertRelationTx(ctx context.Context, ex sqlExecer, r *Relation) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO relations ("from", "to", relation_type, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT("from", "to", relation_type) DO UPDATE SET last_modified=excluded.last_modified`,
		r.From, r.To, r.RelationType, r.CreatedAt, r.LastModified)
	return err
}
