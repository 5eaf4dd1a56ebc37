package kgraph

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
)

// JSONLBackend is the default C1 storage backend: a newline-delimited
// sequence of JSON-object records, one entity or relation per line,
// with atomic full rewrites for compaction. No record is ever
// modified in place; deletions are recorded as tombstone lines so a
// reload does not resurrect a deleted key before the next compaction.
type JSONLBackend struct {
	path   string
	logger Logger
	file   *os.File
}

// NewJSONLBackend opens (creating if necessary) the log file at path
// for appending, keeping the handle open across calls.
func NewJSONLBackend(path string, logger Logger) (*JSONLBackend, error) {
	if logger == nil {
		logger = defaultLogger{}
	}
	path = expandPath(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapErr(KindFileOperation, "create log directory", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, wrapErr(KindFileOperation, "open log file", err)
	}
	return &JSONLBackend{path: path, logger: logger, file: f}, nil
}

type wireRecord struct {
	Type         string `json:"type"`
	Name         string `json:"name,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	RelationType string `json:"relationType,omitempty"`
}

const (
	recEntity            = "entity"
	recRelation          = "relation"
	recEntityTombstone   = "entity_tombstone"
	recRelationTombstone = "relation_tombstone"
)

// Load streams the log, folding successive records: later records
// for the same key overwrite earlier ones, tombstones remove the key,
// and order of first appearance defines list order.
func (b *JSONLBackend) Load(ctx context.Context) (*Graph, error) {
	f, err := os.Open(b.path)
	if os.IsNotExist(err) {
		return &Graph{}, nil
	}
	if err != nil {
		return nil, wrapErr(KindStorageRead, "open log file", err)
	}
	defer f.Close()

	entityOrder := make([]string, 0)
	entities := make(map[string]*Entity)
	relOrder := make([]RelationKey, 0)
	relations := make(map[RelationKey]*Relation)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var head wireRecord
		if err := json.Unmarshal(line, &head); err != nil {
			b.logger.Printf("kgraph: skipping corrupt log line: %v", err)
			continue
		}
		switch head.Type {
		case recEntity:
			var e Entity
			if err := json.Unmarshal(line, &e); err != nil {
				b.logger.Printf("kgraph: skipping corrupt entity record: %v", err)
				continue
			}
			if _, exists := entities[e.Name]; !exists {
				entityOrder = append(entityOrder, e.Name)
			}
			ec := e
			entities[e.Name] = &ec
		case recEntityTombstone:
			delete(entities, head.Name)
		case recRelation:
			var r Relation
			if err := json.Unmarshal(line, &r); err != nil {
				b.logger.Printf("kgraph: skipping corrupt relation record: %v", err)
				continue
			}
			key := r.Key()
			if _, exists := relations[key]; !exists {
				relOrder = append(relOrder, key)
			}
			rc := r
			relations[key] = &rc
		case recRelationTombstone:
			delete(relations, RelationKey{From: head.From, To: head.To, RelationType: head.RelationType})
		default:
			b.logger.Printf("kgraph: skipping log line with unknown type %q", head.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapErr(KindStorageRead, "scan log file", err)
	}

	g := &Graph{}
	for _, name := range entityOrder {
		if e, ok := entities[name]; ok {
			g.Entities = append(g.Entities, e)
		}
	}
	for _, key := range relOrder {
		if r, ok := relations[key]; ok {
			g.Relations = append(g.Relations, r)
		}
	}
	return g, nil
}

// Save performs a full atomic rewrite: serialise to a temp path in
// the same directory, fsync, then rename over the live path so the
// live file is always a valid complete graph even if the process
// dies mid-write.
func (b *JSONLBackend) Save(ctx context.Context, g *Graph) error {
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".kgraph-*.tmp")
	if err != nil {
		return wrapErr(KindStorageWrite, "create temp file", err)
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	writeErr := func() error {
		for _, e := range g.Entities {
			if err := writeEntityRecord(w, e); err != nil {
				return err
			}
		}
		for _, r := range g.Relations {
			if err := writeRelationRecord(w, r); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	if writeErr != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return wrapErr(KindStorageWrite, "write snapshot", writeErr)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return wrapErr(KindStorageWrite, "fsync snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return wrapErr(KindStorageWrite, "close snapshot", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return wrapErr(KindStorageWrite, "rename snapshot", err)
	}
	if err := b.reopen(); err != nil {
		return err
	}
	return nil
}

// reopen re-establishes the append handle after a rename replaced the
// underlying inode.
func (b *JSONLBackend) reopen() error {
	if b.file != nil {
		b.file.Close()
	}
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapErr(KindFileOperation, "reopen log file", err)
	}
	b.file = f
	return nil
}

func (b *JSONLBackend) AppendEntity(ctx context.Context, e *Entity) error {
	var buf bufWriter
	if err := writeEntityRecord(&buf, e); err != nil {
		return err
	}
	_, err := b.file.Write(buf.Bytes())
	return err
}

func (b *JSONLBackend) AppendRelation(ctx context.Context, r *Relation) error {
	var buf bufWriter
	if err := writeRelationRecord(&buf, r); err != nil {
		return err
	}
	_, err := b.file.Write(buf.Bytes())
	return err
}

func (b *JSONLBackend) DeleteEntity(ctx context.Context, name string) error {
	line, err := json.Marshal(wireRecord{Type: recEntityTombstone, Name: name})
	if err != nil {
		return err
	}
	_, err = b.file.Write(append(line, '\n'))
	return err
}

func (b *JSONLBackend) DeleteRelation(ctx context.Context, key RelationKey) error {
	line, err := json.Marshal(wireRecord{
		Type: recRelationTombstone, From: key.From, To: key.To, RelationType: key.RelationType,
	})
	if err != nil {
		return err
	}
	_, err = b.file.Write(append(line, '\n'))
	return err
}

func (b *JSONLBackend) Close() error {
	if b.file == nil {
		return nil
	}
	return b.file.Close()
}

// bufWriter is a tiny io.Writer-compatible []byte accumulator, used
// so the single-record write helpers can be shared between Save's
// bufio.Writer and the append path's direct file write.
type bufWriter struct{ b []byte }

func (w *bufWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
func (w *bufWriter) Bytes() []byte { return w.b }

func writeEntityRecord(w interface{ Write([]byte) (int, error) }, e *Entity) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	merged, err := mergeType(raw, recEntity)
	if err != nil {
		return err
	}
	_, err = w.Write(append(merged, '\n'))
	return err
}

func writeRelationRecord(w interface{ Write([]byte) (int, error) }, r *Relation) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	merged, err := mergeType(raw, recRelation)
	if err != nil {
		return err
	}
	_, err = w.Write(append(merged, '\n'))
	return err
}

// mergeType flattens {"type": kind} into the already-marshalled
// object raw, matching the on-disk shape where "type" sits alongside
// the entity/relation's own fields rather than nesting them.
func mergeType(raw []byte, kind string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	typeVal, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	m["type"] = typeVal
	return json.Marshal(m)
}

func expandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
