package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	"eve.evalgo.org/memoryengine/internal/model"
)

// boltBackend is a brute-force, in-process Backend implementation over a
// bbolt database, grounded on the teacher's db/bolt/bolt.go helper wrapper.
// Similarity is approximated by substring/token overlap scoring rather than
// an embedding model, making it suitable for tests and single-node
// deployments that have no external vector database configured.
type boltBackend struct {
	db *bolt.DB
	mu sync.Mutex
}

// NewBoltBackend opens (creating if necessary) a bbolt database at path and
// returns a Backend over it, with one bucket per known collection.
func NewBoltBackend(path string, collections []string) (Backend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt archive at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, c := range collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return fmt.Errorf("create bucket %s: %w", c, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltBackend{db: db}, nil
}

func (b *boltBackend) Close() error { return b.db.Close() }

func (b *boltBackend) put(collection, id, text string, metadata map[string]string) error {
	doc := model.ArchiveDocument{ID: id, Text: text, Metadata: metadata}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		data, err := encodeDoc(doc)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), data)
	})
}

func (b *boltBackend) Add(_ context.Context, collection, id, text string, metadata map[string]string) error {
	return b.put(collection, id, text, metadata)
}

func (b *boltBackend) Upsert(_ context.Context, collection, id, text string, metadata map[string]string) error {
	return b.put(collection, id, text, metadata)
}

func (b *boltBackend) Get(_ context.Context, collection, id string) (model.ArchiveDocument, bool, error) {
	var doc model.ArchiveDocument
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		return decodeDoc(raw, &doc)
	})
	return doc, found, err
}

func (b *boltBackend) Delete(_ context.Context, collection, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}

func (b *boltBackend) List(_ context.Context, collection string) ([]model.ArchiveDocument, error) {
	var docs []model.ArchiveDocument
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var doc model.ArchiveDocument
			if err := decodeDoc(v, &doc); err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	return docs, err
}

func (b *boltBackend) Count(_ context.Context, collection string) (int, error) {
	count := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// Search scores every document in collection against query by normalized
// token overlap and returns the top n, converted to a distance in [0,2] so
// callers can apply the same relevance thresholds used against a real
// embedding-backed store (lower distance = closer match).
func (b *boltBackend) Search(ctx context.Context, collection, query string, n int) ([]model.SearchHit, error) {
	docs, err := b.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	queryTokens := tokenize(query)
	hits := make([]model.SearchHit, 0, len(docs))
	for _, doc := range docs {
		distance := tokenDistance(queryTokens, tokenize(doc.Text))
		hits = append(hits, model.SearchHit{
			ID:       doc.ID,
			Text:     doc.Text,
			Metadata: doc.Metadata,
			Distance: distance,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if n > 0 && n < len(hits) {
		hits = hits[:n]
	}
	return hits, nil
}

func tokenize(s string) map[string]int {
	fields := strings.Fields(strings.ToLower(s))
	out := make(map[string]int, len(fields))
	for _, f := range fields {
		out[f]++
	}
	return out
}

// tokenDistance returns 2*(1-jaccard), so an exact token-set match is
// distance 0 and total disjointness is distance 2, matching the scale of a
// cosine-derived embedding distance the thresholds in archive.go assume.
func tokenDistance(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 2
	}
	intersection := 0
	union := len(b)
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 2
	}
	jaccard := float64(intersection) / float64(union)
	return 2 * (1 - jaccard)
}
