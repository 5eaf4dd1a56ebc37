package kgraph

import (
	"context"
	"encoding/binary"
	"math"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

const badgerVectorPrefix = "vector:"

// BadgerVectorStore implements VectorStore over an embedded BadgerDB,
// for a vector index that survives process restarts without pulling
// in a dedicated ANN service. Search remains brute-force cosine
// similarity over every stored vector, same as InMemoryVectorStore;
// Badger buys persistence, not approximate search. Grounded on the
// teacher's BadgerProceduralStore (badger.Open, txn.Update/View,
// prefix iteration, path expansion).
type BadgerVectorStore struct {
	db *badger.DB
}

// NewBadgerVectorStore opens (creating if absent) a BadgerDB instance
// at path.
func NewBadgerVectorStore(path string) (*BadgerVectorStore, error) {
	opts := badger.DefaultOptions(expandPath(path)).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, wrapErr(KindStorageWrite, "open badger database", err)
	}
	return &BadgerVectorStore{db: db}, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return v
}

func (s *BadgerVectorStore) Add(ctx context.Context, name string, vector []float32) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerVectorPrefix+name), encodeVector(vector))
	})
}

func (s *BadgerVectorStore) Remove(ctx context.Context, name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerVectorPrefix + name))
	})
	if err != nil {
		return wrapErr(KindStorageWrite, "remove vector", err)
	}
	return nil
}

func (s *BadgerVectorStore) Has(ctx context.Context, name string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(badgerVectorPrefix + name))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *BadgerVectorStore) Get(ctx context.Context, name string) ([]float32, bool, error) {
	var vec []float32
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerVectorPrefix + name))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			vec = decodeVector(val)
			return nil
		})
	})
	return vec, found, err
}

func (s *BadgerVectorStore) Clear(ctx context.Context) error {
	return s.db.DropPrefix([]byte(badgerVectorPrefix))
}

func (s *BadgerVectorStore) Search(ctx context.Context, query []float32, k int) ([]VectorMatch, error) {
	var matches []VectorMatch
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerVectorPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.KeyCopy(nil)[len(badgerVectorPrefix):])
			err := item.Value(func(val []byte) error {
				sim := cosineSimilarity(query, decodeVector(val))
				matches = append(matches, VectorMatch{Name: name, Similarity: sim})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(KindSearchFailed, "badger vector search", err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Name < matches[j].Name
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *BadgerVectorStore) Close() error {
	return s.db.Close()
}
