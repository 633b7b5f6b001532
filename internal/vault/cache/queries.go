package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting Queries methods
// run either standalone or inside Store.WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the hand-written SQL methods the Shadow Cache calls
// through, mirroring the teacher's "store.Queries().VerbNoun(ctx, ...)"
// convention even though no sqlc generator produced this file.
type Queries struct {
	db dbtx
}

func (q *Queries) withTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// FileRow is the raw row shape read from the files table.
type FileRow struct {
	Path        string
	Size        int64
	MTime       int64
	SeenAt      int64
	Hash        string
	Frontmatter string
	Title       string
	Type        string
	Status      string
}

func (q *Queries) UpsertFile(ctx context.Context, f FileRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO files (path, size, mtime, seen_at, hash, frontmatter, title, type, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size=excluded.size, mtime=excluded.mtime, seen_at=excluded.seen_at,
			hash=excluded.hash, frontmatter=excluded.frontmatter, title=excluded.title,
			type=excluded.type, status=excluded.status
	`, f.Path, f.Size, f.MTime, f.SeenAt, f.Hash, f.Frontmatter, f.Title, f.Type, f.Status)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", f.Path, err)
	}
	return nil
}

func (q *Queries) GetFile(ctx context.Context, path string) (*FileRow, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT path, size, mtime, seen_at, hash, frontmatter, title, type, status
		FROM files WHERE path = ?
	`, path)
	var f FileRow
	err := row.Scan(&f.Path, &f.Size, &f.MTime, &f.SeenAt, &f.Hash, &f.Frontmatter, &f.Title, &f.Type, &f.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", path, err)
	}
	return &f, nil
}

func (q *Queries) DeleteFile(ctx context.Context, path string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	return nil
}

func (q *Queries) ListAllPaths(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT path FROM files`)
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (q *Queries) ReplaceTags(ctx context.Context, path string, tags []string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM file_tags WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("clear tags for %s: %w", path, err)
	}
	for _, tag := range tags {
		if _, err := q.db.ExecContext(ctx, `INSERT OR IGNORE INTO file_tags (file_path, tag) VALUES (?, ?)`, path, tag); err != nil {
			return fmt.Errorf("insert tag %s for %s: %w", tag, path, err)
		}
	}
	return nil
}

func (q *Queries) ReplaceLinks(ctx context.Context, sourcePath string, links []LinkRow) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM links WHERE source_path = ?`, sourcePath); err != nil {
		return fmt.Errorf("clear links for %s: %w", sourcePath, err)
	}
	for _, l := range links {
		if _, err := q.db.ExecContext(ctx, `INSERT INTO links (source_path, target_path, kind) VALUES (?, ?, ?)`, sourcePath, l.TargetPath, l.Kind); err != nil {
			return fmt.Errorf("insert link from %s: %w", sourcePath, err)
		}
	}
	return nil
}

func (q *Queries) ReplaceFTS(ctx context.Context, path, title, body string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM files_fts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("clear fts for %s: %w", path, err)
	}
	if _, err := q.db.ExecContext(ctx, `INSERT INTO files_fts (path, title, body) VALUES (?, ?, ?)`, path, title, body); err != nil {
		return fmt.Errorf("insert fts for %s: %w", path, err)
	}
	return nil
}

// FTSMatch is one full-text search hit: the matched file and an
// FTS5-generated snippet highlighting the match in context.
type FTSMatch struct {
	Path    string
	Title   string
	Snippet string
}

// SearchFTS runs query against the files_fts virtual table, ranked by
// FTS5's built-in bm25 relevance and returning an excerpt via snippet().
func (q *Queries) SearchFTS(ctx context.Context, query string, limit int) ([]FTSMatch, error) {
	// Quoted as an FTS5 phrase so arbitrary user input (punctuation,
	// bare operators) can't be misread as query syntax.
	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	rows, err := q.db.QueryContext(ctx, `
		SELECT path, title, snippet(files_fts, 2, '[', ']', '...', 10)
		FROM files_fts
		WHERE files_fts MATCH ?
		ORDER BY bm25(files_fts)
		LIMIT ?`, phrase, limit)
	if err != nil {
		return nil, fmt.Errorf("search fts %q: %w", query, err)
	}
	defer rows.Close()

	var out []FTSMatch
	for rows.Next() {
		var m FTSMatch
		if err := rows.Scan(&m.Path, &m.Title, &m.Snippet); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LinkRow is the raw row shape read from the links table.
type LinkRow struct {
	SourcePath string
	TargetPath string
	Kind       string
}

func (q *Queries) LinksFrom(ctx context.Context, sourcePath string) ([]LinkRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT source_path, target_path, kind FROM links WHERE source_path = ?`, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("links from %s: %w", sourcePath, err)
	}
	defer rows.Close()
	return scanLinkRows(rows)
}

func (q *Queries) LinksTo(ctx context.Context, targetPath string) ([]LinkRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT source_path, target_path, kind FROM links WHERE target_path = ?`, targetPath)
	if err != nil {
		return nil, fmt.Errorf("links to %s: %w", targetPath, err)
	}
	defer rows.Close()
	return scanLinkRows(rows)
}

func scanLinkRows(rows *sql.Rows) ([]LinkRow, error) {
	var out []LinkRow
	for rows.Next() {
		var l LinkRow
		if err := rows.Scan(&l.SourcePath, &l.TargetPath, &l.Kind); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q *Queries) DistinctTags(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT DISTINCT tag FROM file_tags`)
	if err != nil {
		return nil, fmt.Errorf("distinct tags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) FilesWithTag(ctx context.Context, tag string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT file_path FROM file_tags WHERE tag = ?`, tag)
	if err != nil {
		return nil, fmt.Errorf("files with tag %s: %w", tag, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) TotalTags(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT tag) FROM file_tags`).Scan(&n)
	return n, err
}

func (q *Queries) TotalLinks(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&n)
	return n, err
}

func (q *Queries) TotalFiles(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n)
	return n, err
}

func (q *Queries) VaultSizeBytes(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := q.db.QueryRowContext(ctx, `SELECT SUM(size) FROM files`).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n.Int64, nil
}

func (q *Queries) CountByType(ctx context.Context) (map[string]int, error) {
	return countGroupBy(ctx, q.db, `SELECT type, COUNT(*) FROM files GROUP BY type`)
}

func (q *Queries) CountByStatus(ctx context.Context) (map[string]int, error) {
	return countGroupBy(ctx, q.db, `SELECT status, COUNT(*) FROM files GROUP BY status`)
}

func countGroupBy(ctx context.Context, db dbtx, query string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

func (q *Queries) TopTags(ctx context.Context, limit int) ([]TagCount, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT tag, COUNT(*) AS n FROM file_tags GROUP BY tag ORDER BY n DESC, tag ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// TagCount pairs a tag with its file count, used by getStats' topTags
// and searchTags' per-tag grouping.
type TagCount struct {
	Tag   string
	Count int
}

// marshalFrontmatter and unmarshalFrontmatter convert the in-memory
// map[string]any frontmatter to/from the JSON column storage format.
func marshalFrontmatter(fm map[string]any) (string, error) {
	b, err := json.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("marshal frontmatter: %w", err)
	}
	return string(b), nil
}

func unmarshalFrontmatter(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var fm map[string]any
	if err := json.Unmarshal([]byte(raw), &fm); err != nil {
		return nil, fmt.Errorf("unmarshal frontmatter: %w", err)
	}
	return fm, nil
}
