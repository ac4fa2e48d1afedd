package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// SQLiteStore persists chunks, document hierarchies, and assets in a single
// SQLite database. It implements ChunkStore, HierarchyStore, and AssetStore.
// WAL mode allows the loader and a running server to share the file.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var (
	_ ChunkStore     = (*SQLiteStore)(nil)
	_ HierarchyStore = (*SQLiteStore)(nil)
	_ AssetStore     = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens or creates the database at path. An empty path creates
// an in-memory database, used by tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: avoids lock contention and keeps :memory: databases
	// on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Pragmas must be set via statements, DSN params are ignored by
	// modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		doc_id       TEXT NOT NULL,
		content      TEXT NOT NULL,
		page_number  INTEGER NOT NULL,
		section_id   TEXT,
		section_path TEXT,
		embedding    BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id, page_number, id);

	CREATE TABLE IF NOT EXISTS hierarchies (
		doc_id  TEXT PRIMARY KEY,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS images (
		id          TEXT PRIMARY KEY,
		doc_id      TEXT NOT NULL,
		section_id  TEXT,
		page_number INTEGER NOT NULL,
		url         TEXT NOT NULL,
		description TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_images_doc ON images(doc_id, section_id, page_number);

	CREATE TABLE IF NOT EXISTS doc_tables (
		id          TEXT PRIMARY KEY,
		doc_id      TEXT NOT NULL,
		section_id  TEXT,
		page_number INTEGER NOT NULL,
		markdown    TEXT NOT NULL,
		description TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tables_doc ON doc_tables(doc_id, section_id, page_number);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveChunks inserts or replaces chunk records in one transaction.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, doc_id, content, page_number, section_id, section_path, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		pathJSON, err := json.Marshal(c.SectionPath)
		if err != nil {
			return fmt.Errorf("marshal section path for %s: %w", c.ID, err)
		}
		var sectionID any
		if c.SectionID != "" {
			sectionID = c.SectionID
		}
		var embedding any
		if c.Embedding != nil {
			embedding = encodeEmbedding(c.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocID, c.Content, c.PageNumber, sectionID, string(pathJSON), embedding); err != nil {
			return fmt.Errorf("save chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunk returns one chunk by id, or sql.ErrNoRows wrapped.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	chunks, err := s.GetChunks(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunk %s: %w", id, sql.ErrNoRows)
	}
	return chunks[0], nil
}

// GetChunks batch-fetches chunks by id. Missing ids are skipped; the result
// preserves the requested order.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, doc_id, content, page_number, section_id, section_path, embedding
		FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	out := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetChunksByDoc returns all chunks of a document in (page, id) order.
func (s *SQLiteStore) GetChunksByDoc(ctx context.Context, docID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, content, page_number, section_id, section_path, embedding
		FROM chunks WHERE doc_id = ? ORDER BY page_number, id`, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks by doc: %w", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunksByDoc removes all chunks of a document.
func (s *SQLiteStore) DeleteChunksByDoc(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID)
	return err
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// SaveHierarchy validates and stores a document's section tree as a JSON
// payload keyed by doc id. The document's stored chunks are cross-checked
// against section membership, so chunks must be saved before their hierarchy.
func (s *SQLiteStore) SaveHierarchy(ctx context.Context, h *Hierarchy) error {
	if err := h.Validate(); err != nil {
		return err
	}
	// Fetch before the write lock; GetChunksByDoc takes the read lock itself.
	chunks, err := s.GetChunksByDoc(ctx, h.DocID)
	if err != nil {
		return err
	}
	if err := h.ValidateChunks(chunks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal hierarchy %s: %w", h.DocID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO hierarchies (doc_id, payload) VALUES (?, ?)`,
		h.DocID, string(payload))
	return err
}

// Get loads and validates a document's hierarchy, rebuilding the page index
// from the stored chunks. Returns ErrHierarchyNotFound when absent.
func (s *SQLiteStore) Get(ctx context.Context, docID string) (*Hierarchy, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM hierarchies WHERE doc_id = ?`, docID).Scan(&payload)
	s.mu.RUnlock()
	if err == sql.ErrNoRows {
		return nil, ErrHierarchyNotFound{DocID: docID}
	}
	if err != nil {
		return nil, fmt.Errorf("query hierarchy: %w", err)
	}

	var h Hierarchy
	if err := json.Unmarshal([]byte(payload), &h); err != nil {
		return nil, fmt.Errorf("decode hierarchy %s: %w", docID, err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	chunks, err := s.GetChunksByDoc(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := h.ValidateChunks(chunks); err != nil {
		return nil, err
	}
	h.BuildPageIndex(chunks)
	return &h, nil
}

// SaveImages inserts or replaces image records.
func (s *SQLiteStore) SaveImages(ctx context.Context, images []*Image) error {
	if len(images) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO images (id, doc_id, section_id, page_number, url, description)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, img := range images {
		var sectionID any
		if img.SectionID != "" {
			sectionID = img.SectionID
		}
		if _, err := stmt.ExecContext(ctx, img.ID, img.DocID, sectionID, img.PageNumber, img.URL, img.Description); err != nil {
			return fmt.Errorf("save image %s: %w", img.ID, err)
		}
	}
	return tx.Commit()
}

// SaveTables inserts or replaces table records.
func (s *SQLiteStore) SaveTables(ctx context.Context, tables []*Table) error {
	if len(tables) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO doc_tables (id, doc_id, section_id, page_number, markdown, description)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tables {
		var sectionID any
		if t.SectionID != "" {
			sectionID = t.SectionID
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.DocID, sectionID, t.PageNumber, t.Markdown, t.Description); err != nil {
			return fmt.Errorf("save table %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// ImagesFor returns the document's images attached to any of the given
// sections or pages, ordered by id.
func (s *SQLiteStore) ImagesFor(ctx context.Context, docID string, sectionIDs []string, pages []int) ([]*Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	query, args := assetQuery("SELECT id, doc_id, section_id, page_number, url, description FROM images",
		docID, sectionIDs, pages)
	if query == "" {
		return []*Image{}, nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var out []*Image
	for rows.Next() {
		var img Image
		var sectionID sql.NullString
		var description sql.NullString
		if err := rows.Scan(&img.ID, &img.DocID, &sectionID, &img.PageNumber, &img.URL, &description); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img.SectionID = sectionID.String
		img.Description = description.String
		out = append(out, &img)
	}
	return out, rows.Err()
}

// TablesFor returns the document's tables attached to any of the given
// sections or pages, ordered by id.
func (s *SQLiteStore) TablesFor(ctx context.Context, docID string, sectionIDs []string, pages []int) ([]*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	query, args := assetQuery("SELECT id, doc_id, section_id, page_number, markdown, description FROM doc_tables",
		docID, sectionIDs, pages)
	if query == "" {
		return []*Table{}, nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var out []*Table
	for rows.Next() {
		var t Table
		var sectionID sql.NullString
		var description sql.NullString
		if err := rows.Scan(&t.ID, &t.DocID, &sectionID, &t.PageNumber, &t.Markdown, &description); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t.SectionID = sectionID.String
		t.Description = description.String
		out = append(out, &t)
	}
	return out, rows.Err()
}

// assetQuery builds "WHERE doc_id = ? AND (section_id IN (...) OR page_number
// IN (...))" with an ORDER BY id for deterministic results. Returns an empty
// query when both filters are empty.
func assetQuery(selectClause, docID string, sectionIDs []string, pages []int) (string, []any) {
	if len(sectionIDs) == 0 && len(pages) == 0 {
		return "", nil
	}

	args := []any{docID}
	var conds []string
	if len(sectionIDs) > 0 {
		ph := make([]string, len(sectionIDs))
		for i, id := range sectionIDs {
			ph[i] = "?"
			args = append(args, id)
		}
		conds = append(conds, fmt.Sprintf("section_id IN (%s)", strings.Join(ph, ",")))
	}
	if len(pages) > 0 {
		ph := make([]string, len(pages))
		for i, p := range pages {
			ph[i] = "?"
			args = append(args, p)
		}
		conds = append(conds, fmt.Sprintf("page_number IN (%s)", strings.Join(ph, ",")))
	}

	query := fmt.Sprintf("%s WHERE doc_id = ? AND (%s) ORDER BY id",
		selectClause, strings.Join(conds, " OR "))
	return query, args
}

// Close closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// scanChunk reads one chunk row.
func scanChunk(rows *sql.Rows) (*Chunk, error) {
	var c Chunk
	var sectionID sql.NullString
	var pathJSON sql.NullString
	var embedding []byte
	if err := rows.Scan(&c.ID, &c.DocID, &c.Content, &c.PageNumber, &sectionID, &pathJSON, &embedding); err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	c.SectionID = sectionID.String
	if pathJSON.Valid && pathJSON.String != "" {
		if err := json.Unmarshal([]byte(pathJSON.String), &c.SectionPath); err != nil {
			return nil, fmt.Errorf("decode section path for %s: %w", c.ID, err)
		}
	}
	if len(embedding) > 0 {
		c.Embedding = decodeEmbedding(embedding)
	}
	return &c, nil
}

// encodeEmbedding packs a float32 vector as little-endian bytes.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian float32 vector.
func decodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
