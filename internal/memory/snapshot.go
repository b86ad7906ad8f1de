package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed width so created_at sorts lexically.
const snapshotTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SnapshotStore persists controller snapshots to sqlite. The controller
// itself never touches it; hosts save after maintenance and restore on start.
type SnapshotStore struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSnapshotStore(dbPath string) (*SnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SnapshotStore{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SnapshotStore) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SnapshotStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SnapshotStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS segments (
			id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			relevance_score REAL NOT NULL DEFAULT 1.0,
			access_count INTEGER NOT NULL DEFAULT 0,
			compression_ratio REAL NOT NULL DEFAULT 1.0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_tier ON segments(tier, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Save replaces the stored snapshot with items in one transaction.
func (s *SnapshotStore) Save(items []TieredSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM segments`); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO segments (id, tier, content, metadata, created_at, relevance_score, access_count, compression_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		seg := item.Segment
		meta, err := json.Marshal(seg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata %s: %w", seg.ID, err)
		}
		if _, err := stmt.Exec(
			seg.ID,
			string(item.Tier),
			seg.Content,
			string(meta),
			seg.CreatedAt.UTC().Format(snapshotTimeLayout),
			seg.RelevanceScore,
			seg.AccessCount,
			seg.CompressionRatio,
		); err != nil {
			return fmt.Errorf("insert segment %s: %w", seg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	log.Printf("[snapshot] saved %d segments", len(items))
	return nil
}

// Load reads the stored snapshot ordered by tier scan order and creation time.
func (s *SnapshotStore) Load() ([]TieredSegment, error) {
	rows, err := s.db.Query(`
		SELECT id, tier, content, metadata, created_at, relevance_score, access_count, compression_ratio
		FROM segments
		ORDER BY CASE tier WHEN 'active' THEN 0 WHEN 'working' THEN 1 ELSE 2 END, created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	result := make([]TieredSegment, 0)
	for rows.Next() {
		var (
			item      TieredSegment
			tier      string
			meta      string
			createdAt string
		)
		seg := &item.Segment
		if err := rows.Scan(
			&seg.ID,
			&tier,
			&seg.Content,
			&meta,
			&createdAt,
			&seg.RelevanceScore,
			&seg.AccessCount,
			&seg.CompressionRatio,
		); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		t, err := ParseTier(tier)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", seg.ID, err)
		}
		item.Tier = t
		if seg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", seg.ID, err)
		}
		if err := json.Unmarshal([]byte(meta), &seg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata of %s: %w", seg.ID, err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return result, nil
}
