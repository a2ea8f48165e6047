// Package embedcache keeps embedding vectors in SQLite so repeated memoir runs over the same
// transcripts do not re-embed unchanged sentences.
package embedcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/provider"
)

type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	// modernc applies connection pragmas from repeated _pragma parameters.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS embeddings (
		key TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		dim INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Key identifies a (model, text) pair.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text under model. ok is false on a miss.
func (s *Store) Get(ctx context.Context, model, text string) ([]float64, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT dim, vector FROM embeddings WHERE key = ?`, Key(model, text))
	var dim int
	var blob []byte
	err := row.Scan(&dim, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan embedding row: %w", err)
	}
	vec, err := decodeVector(blob, dim)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (s *Store) Put(ctx context.Context, model, text string, vec []float64) error {
	query := `
	INSERT INTO embeddings (key, model, dim, vector, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		dim = excluded.dim,
		vector = excluded.vector,
		created_at = excluded.created_at`
	_, err := s.db.ExecContext(ctx, query, Key(model, text), model, len(vec), encodeVector(vec), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Count returns the number of cached vectors for model, or for all models when model is empty.
func (s *Store) Count(ctx context.Context, model string) (int, error) {
	var n int
	var err error
	if model == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE model = ?`, model).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

func encodeVector(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, f := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dim int) ([]float64, error) {
	if len(buf) != dim*8 {
		return nil, fmt.Errorf("embedding blob is %d bytes, want %d", len(buf), dim*8)
	}
	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec, nil
}

// CachedEmbedder serves vectors from Store and embeds only the misses, in one batch.
type CachedEmbedder struct {
	Store *Store
	Inner provider.Embedder

	Hits   int
	Misses int
}

func (c *CachedEmbedder) ModelName() string { return c.Inner.ModelName() }

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if c.Inner == nil {
		return nil, errors.New("CachedEmbedder: inner embedder is nil")
	}
	if c.Store == nil {
		return c.Inner.Embed(ctx, texts)
	}
	model := c.Inner.ModelName()

	out := make([][]float64, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		vec, ok, err := c.Store.Get(ctx, model, text)
		if err != nil {
			return nil, fmt.Errorf("CachedEmbedder.Embed: %w", err)
		}
		if ok {
			out[i] = vec
			c.Hits++
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.Inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("CachedEmbedder.Embed: got %d vectors for %d inputs", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.Misses++
		if err := c.Store.Put(ctx, model, missTexts[j], vecs[j]); err != nil {
			return nil, fmt.Errorf("CachedEmbedder.Embed: %w", err)
		}
	}
	return out, nil
}
