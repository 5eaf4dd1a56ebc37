package kgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DgraphBackend implements Backend against a Dgraph cluster, an
// opt-in remote storage backend selected by MEMORY_STORAGE_TYPE=dgraph
// for deployments that already run Dgraph for other graph data and
// want the knowledge graph to live alongside it. Grounded on the
// teacher's DgraphSemanticStore: grpc.Dial with insecure transport,
// schema-init-on-construct, upsert-by-name mutations, and
// query-with-variables reads instead of string-interpolated queries.
type DgraphBackend struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewDgraphBackend dials alphaURL (the Dgraph Alpha gRPC endpoint)
// and ensures the entity/relation schema exists.
func NewDgraphBackend(alphaURL string) (*DgraphBackend, error) {
	if alphaURL == "" {
		alphaURL = "localhost:9080"
	}
	conn, err := grpc.Dial(alphaURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, wrapErr(KindStorageWrite, "dial dgraph alpha", err)
	}
	client := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	b := &DgraphBackend{client: client, conn: conn}
	if err := b.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, wrapErr(KindStorageWrite, "initialize dgraph schema", err)
	}
	return b, nil
}

func (b *DgraphBackend) initSchema(ctx context.Context) error {
	schema := `
		type KGEntity {
			kg.name: string
			kg.entityType: string
			kg.observations: string
			kg.tags: string
			kg.importance: float
			kg.parentId: string
			kg.payload: string
			kg.createdAt: datetime
			kg.lastModified: datetime
		}

		type KGRelation {
			kg.from: string
			kg.to: string
			kg.relationType: string
			kg.relCreatedAt: datetime
			kg.relLastModified: datetime
		}

		kg.name: string @index(exact, term) @upsert .
		kg.entityType: string @index(exact) .
		kg.observations: string .
		kg.tags: string .
		kg.importance: float .
		kg.parentId: string @index(exact) .
		kg.payload: string .
		kg.createdAt: datetime .
		kg.lastModified: datetime .

		kg.from: string @index(exact) .
		kg.to: string @index(exact) .
		kg.relationType: string @index(exact) .
		kg.relCreatedAt: datetime .
		kg.relLastModified: datetime .
	`
	return b.client.Alter(ctx, &api.Operation{Schema: schema})
}

type dgraphEntityNode struct {
	UID           string   `json:"uid,omitempty"`
	DType         []string `json:"dgraph.type,omitempty"`
	Name          string   `json:"kg.name"`
	EntityType    string   `json:"kg.entityType"`
	Observations  string   `json:"kg.observations"`
	Tags          string   `json:"kg.tags"`
	Importance    *float64 `json:"kg.importance,omitempty"`
	ParentID      string   `json:"kg.parentId,omitempty"`
	Payload       string   `json:"kg.payload"`
	CreatedAt     string   `json:"kg.createdAt"`
	LastModified  string   `json:"kg.lastModified"`
}

type dgraphRelationNode struct {
	UID             string   `json:"uid,omitempty"`
	DType           []string `json:"dgraph.type,omitempty"`
	From            string   `json:"kg.from"`
	To              string   `json:"kg.to"`
	RelationType    string   `json:"kg.relationType"`
	RelCreatedAt    string   `json:"kg.relCreatedAt"`
	RelLastModified string   `json:"kg.relLastModified"`
}

func toDgraphEntity(e *Entity) (*dgraphEntityNode, error) {
	obs, err := json.Marshal(e.Observations)
	if err != nil {
		return nil, err
	}
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return &dgraphEntityNode{
		DType:        []string{"KGEntity"},
		Name:         e.Name,
		EntityType:   e.EntityType,
		Observations: string(obs),
		Tags:         string(tags),
		Importance:   e.Importance,
		ParentID:     e.ParentID,
		Payload:      string(payload),
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		LastModified: e.LastModified.Format(time.RFC3339),
	}, nil
}

func fromDgraphEntity(n dgraphEntityNode) (*Entity, error) {
	e := &Entity{Name: n.Name, EntityType: n.EntityType, ParentID: n.ParentID, Importance: n.Importance}
	if n.Observations != "" {
		if err := json.Unmarshal([]byte(n.Observations), &e.Observations); err != nil {
			return nil, err
		}
	}
	if n.Tags != "" {
		if err := json.Unmarshal([]byte(n.Tags), &e.Tags); err != nil {
			return nil, err
		}
	}
	if n.Payload != "" && n.Payload != "null" {
		if err := json.Unmarshal([]byte(n.Payload), &e.Payload); err != nil {
			return nil, err
		}
	}
	if n.CreatedAt != "" {
		e.CreatedAt, _ = time.Parse(time.RFC3339, n.CreatedAt)
	}
	if n.LastModified != "" {
		e.LastModified, _ = time.Parse(time.RFC3339, n.LastModified)
	}
	return e, nil
}

// upsertEntityUID finds the existing UID for name, or "_:new" for a
// fresh node, via a variable query rather than string interpolation.
func (b *DgraphBackend) upsertEntityUID(ctx context.Context, txn *dgo.Txn, name string) (string, error) {
	q := `query q($name: string) { entity(func: eq(kg.name, $name)) { uid } }`
	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$name": name})
	if err != nil {
		return "", err
	}
	var result struct {
		Entity []struct {
			UID string `json:"uid"`
		} `json:"entity"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return "", err
	}
	if len(result.Entity) > 0 {
		return result.Entity[0].UID, nil
	}
	return "_:new", nil
}

func (b *DgraphBackend) AppendEntity(ctx context.Context, e *Entity) error {
	txn := b.client.NewTxn()
	defer txn.Discard(ctx)
	uid, err := b.upsertEntityUID(ctx, txn, e.Name)
	if err != nil {
		return wrapErr(KindStorageWrite, "resolve entity uid", err)
	}
	node, err := toDgraphEntity(e)
	if err != nil {
		return wrapErr(KindStorageWrite, "marshal entity", err)
	}
	node.UID = uid
	body, err := json.Marshal(node)
	if err != nil {
		return wrapErr(KindStorageWrite, "marshal entity node", err)
	}
	_, err = txn.Mutate(ctx, &api.Mutation{CommitNow: true, SetJson: body})
	if err != nil {
		return wrapErr(KindStorageWrite, "mutate entity", err)
	}
	return nil
}

func (b *DgraphBackend) AppendRelation(ctx context.Context, r *Relation) error {
	txn := b.client.NewTxn()
	defer txn.Discard(ctx)
	node := dgraphRelationNode{
		DType: []string{"KGRelation"}, From: r.From, To: r.To, RelationType: r.RelationType,
		RelCreatedAt: r.CreatedAt.Format(time.RFC3339), RelLastModified: r.LastModified.Format(time.RFC3339),
	}
	uid, err := b.findRelationUID(ctx, txn, r.Key())
	if err != nil {
		return wrapErr(KindStorageWrite, "resolve relation uid", err)
	}
	node.UID = uid
	body, err := json.Marshal(node)
	if err != nil {
		return wrapErr(KindStorageWrite, "marshal relation node", err)
	}
	_, err = txn.Mutate(ctx, &api.Mutation{CommitNow: true, SetJson: body})
	if err != nil {
		return wrapErr(KindStorageWrite, "mutate relation", err)
	}
	return nil
}

func (b *DgraphBackend) findRelationUID(ctx context.Context, txn *dgo.Txn, key RelationKey) (string, error) {
	q := `query q($from: string, $to: string, $rt: string) {
		rel(func: eq(kg.from, $from)) @filter(eq(kg.to, $to) AND eq(kg.relationType, $rt)) { uid }
	}`
	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$from": key.From, "$to": key.To, "$rt": key.RelationType})
	if err != nil {
		return "", err
	}
	var result struct {
		Rel []struct {
			UID string `json:"uid"`
		} `json:"rel"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return "", err
	}
	if len(result.Rel) > 0 {
		return result.Rel[0].UID, nil
	}
	return "_:new", nil
}

func (b *DgraphBackend) DeleteEntity(ctx context.Context, name string) error {
	txn := b.client.NewTxn()
	defer txn.Discard(ctx)
	uid, err := b.upsertEntityUID(ctx, txn, name)
	if err != nil {
		return wrapErr(KindStorageWrite, "resolve entity uid", err)
	}
	if uid == "_:new" {
		return nil
	}
	_, err = txn.Mutate(ctx, &api.Mutation{CommitNow: true, DelNquads: []byte(fmt.Sprintf("<%s> * * .", uid))})
	if err != nil {
		return wrapErr(KindStorageWrite, "delete entity", err)
	}
	return nil
}

func (b *DgraphBackend) DeleteRelation(ctx context.Context, key RelationKey) error {
	txn := b.client.NewTxn()
	defer txn.Discard(ctx)
	uid, err := b.findRelationUID(ctx, txn, key)
	if err != nil {
		return wrapErr(KindStorageWrite, "resolve relation uid", err)
	}
	if uid == "_:new" {
		return nil
	}
	_, err = txn.Mutate(ctx, &api.Mutation{CommitNow: true, DelNquads: []byte(fmt.Sprintf("<%s> * * .", uid))})
	if err != nil {
		return wrapErr(KindStorageWrite, "delete relation", err)
	}
	return nil
}

func (b *DgraphBackend) Load(ctx context.Context) (*Graph, error) {
	txn := b.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	g := &Graph{}

	resp, err := txn.Query(ctx, `{
		entities(func: type(KGEntity)) {
			uid kg.name kg.entityType kg.observations kg.tags kg.importance kg.parentId kg.payload kg.createdAt kg.lastModified
		}
	}`)
	if err != nil {
		return nil, wrapErr(KindStorageRead, "query entities", err)
	}
	var entResult struct {
		Entities []dgraphEntityNode `json:"entities"`
	}
	if err := json.Unmarshal(resp.Json, &entResult); err != nil {
		return nil, wrapErr(KindStorageRead, "parse entities", err)
	}
	for _, n := range entResult.Entities {
		e, err := fromDgraphEntity(n)
		if err != nil {
			return nil, wrapErr(KindStorageCorrupted, "decode entity", err)
		}
		g.Entities = append(g.Entities, e)
	}

	relResp, err := txn.Query(ctx, `{
		relations(func: type(KGRelation)) {
			kg.from kg.to kg.relationType kg.relCreatedAt kg.relLastModified
		}
	}`)
	if err != nil {
		return nil, wrapErr(KindStorageRead, "query relations", err)
	}
	var relResult struct {
		Relations []dgraphRelationNode `json:"relations"`
	}
	if err := json.Unmarshal(relResp.Json, &relResult); err != nil {
		return nil, wrapErr(KindStorageRead, "parse relations", err)
	}
	for _, n := range relResult.Relations {
		r := &Relation{From: n.From, To: n.To, RelationType: n.RelationType}
		r.CreatedAt, _ = time.Parse(time.RFC3339, n.RelCreatedAt)
		r.LastModified, _ = time.Parse(time.RFC3339, n.RelLastModified)
		g.Relations = append(g.Relations, r)
	}

	return g, nil
}

// Save performs the full rewrite by deleting every KGEntity/KGRelation
// node and re-appending the graph, mirroring the JSONL/SQLite
// backends' atomic-rewrite semantics as closely as Dgraph's
// transaction model allows.
func (b *DgraphBackend) Save(ctx context.Context, g *Graph) error {
	if err := b.dropAll(ctx, "KGEntity"); err != nil {
		return err
	}
	if err := b.dropAll(ctx, "KGRelation"); err != nil {
		return err
	}
	for _, e := range g.Entities {
		if err := b.AppendEntity(ctx, e); err != nil {
			return err
		}
	}
	for _, r := range g.Relations {
		if err := b.AppendRelation(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (b *DgraphBackend) dropAll(ctx context.Context, typeName string) error {
	txn := b.client.NewTxn()
	defer txn.Discard(ctx)
	resp, err := txn.Query(ctx, fmt.Sprintf(`{ nodes(func: type(%s)) { uid } }`, typeName))
	if err != nil {
		return wrapErr(KindStorageWrite, "query nodes to drop", err)
	}
	var result struct {
		Nodes []struct {
			UID string `json:"uid"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return wrapErr(KindStorageWrite, "parse nodes to drop", err)
	}
	for _, n := range result.Nodes {
		if _, err := txn.Mutate(ctx, &api.Mutation{DelNquads: []byte(fmt.Sprintf("<%s> * * .", n.UID))}); err != nil {
			return wrapErr(KindStorageWrite, "delete node", err)
		}
	}
	return txn.Commit(ctx)
}

func (b *DgraphBackend) Close() error { return b.conn.Close() }
