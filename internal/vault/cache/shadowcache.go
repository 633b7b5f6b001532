package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/vault/parser"
	"github.com/weaver-md/weaver/internal/weavererr"
)

const batchSize = 100

// ShadowCache is the Shadow Cache component: the durable, queryable
// index of vault files, tags, and links. It owns file/tag/link records
// (spec.md §3's "Ownership") — every other component reads through it.
type ShadowCache struct {
	store     *Store
	vaultRoot string
	log       *zap.SugaredLogger
}

// NewShadowCache opens the shadow-cache database at dbPath and binds it
// to the given vault root.
func NewShadowCache(dbPath, vaultRoot string, log *zap.SugaredLogger) (*ShadowCache, error) {
	store, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &ShadowCache{store: store, vaultRoot: vaultRoot, log: log}, nil
}

func (c *ShadowCache) Close() error {
	return c.store.Close()
}

func (c *ShadowCache) Store() *Store {
	return c.store
}

type pendingFile struct {
	relPath string
	content []byte
	info    fs.FileInfo
}

// syncVault performs a full scan of the vault: every markdown file's
// recorded hash is compared against disk, differences are upserted, and
// tombstoned records (file gone from disk) are deleted. Work is batched
// in groups of ≥100 files per transaction to amortize fsync, exactly as
// spec.md §4.2 requires.
func (c *ShadowCache) SyncVault(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	existing, err := c.store.Queries().ListAllPaths(ctx)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "list existing paths")
	}
	existingSet := make(map[string]bool, len(existing))
	for _, p := range existing {
		existingSet[p] = true
	}
	seenSet := make(map[string]bool, len(existing))

	var batch []pendingFile
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.applyBatch(ctx, batch); err != nil {
			return err
		}
		result.Updated += len(batch)
		batch = batch[:0]
		return nil
	}

	walkErr := filepath.WalkDir(c.vaultRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(c.vaultRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			c.logWarn("read file during sync", rel, readErr)
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			c.logWarn("stat file during sync", rel, statErr)
			return nil
		}

		result.Scanned++
		seenSet[rel] = true

		hash := hashContent(content)
		existingRow, getErr := c.store.Queries().GetFile(ctx, rel)
		if getErr != nil {
			c.logWarn("lookup existing record during sync", rel, getErr)
			return nil
		}
		if existingRow != nil && existingRow.Hash == hash {
			return nil
		}

		batch = append(batch, pendingFile{relPath: rel, content: content, info: info})
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, weavererr.Wrap(walkErr, weavererr.ErrorTypeInternal, "walk vault")
	}
	if err := flush(); err != nil {
		return nil, err
	}

	var toDelete []string
	for _, p := range existing {
		if !seenSet[p] {
			toDelete = append(toDelete, p)
		}
	}
	for _, p := range toDelete {
		if err := c.store.WithTx(ctx, func(q *Queries) error {
			return q.DeleteFile(ctx, p)
		}); err != nil {
			c.logWarn("delete tombstoned record", p, err)
			continue
		}
		result.Deleted++
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (c *ShadowCache) applyBatch(ctx context.Context, batch []pendingFile) error {
	return c.store.WithTx(ctx, func(q *Queries) error {
		for _, pf := range batch {
			if err := upsertOne(ctx, q, pf); err != nil {
				c.logWarn("upsert during batch sync", pf.relPath, err)
			}
		}
		return nil
	})
}

func upsertOne(ctx context.Context, q *Queries, pf pendingFile) error {
	doc, warn := parser.Parse(pf.relPath, pf.content)
	if warn != nil {
		// best-effort record still recorded; spec.md §4.2 failure semantics
	}
	tags := parser.Tags(doc)
	links := parser.Links(doc.Body)
	title := parser.Title(doc, pf.relPath)
	fmJSON, err := marshalFrontmatter(doc.Frontmatter)
	if err != nil {
		return err
	}

	row := FileRow{
		Path:        pf.relPath,
		Size:        pf.info.Size(),
		MTime:       pf.info.ModTime().UnixMilli(),
		SeenAt:      Now().UnixMilli(),
		Hash:        hashContent(pf.content),
		Frontmatter: fmJSON,
		Title:       title,
		Type:        "markdown",
		Status:      "active",
	}
	if err := q.UpsertFile(ctx, row); err != nil {
		return err
	}
	if err := q.ReplaceTags(ctx, pf.relPath, tags); err != nil {
		return err
	}
	linkRows := make([]LinkRow, 0, len(links))
	for _, l := range links {
		linkRows = append(linkRows, LinkRow{SourcePath: pf.relPath, TargetPath: l.Target, Kind: string(l.Kind)})
	}
	if err := q.ReplaceLinks(ctx, pf.relPath, linkRows); err != nil {
		return err
	}
	return q.ReplaceFTS(ctx, pf.relPath, title, doc.Body)
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (c *ShadowCache) logWarn(op, path string, err error) {
	if c.log == nil {
		return
	}
	c.log.Warnw(op, "path", path, "error", err)
}

// SyncPath reparses a single file and replaces its derived rows in one
// transaction. A removed file deletes all owned rows via FK cascade.
func (c *ShadowCache) SyncPath(ctx context.Context, relPath string) error {
	absPath := filepath.Join(c.vaultRoot, filepath.FromSlash(relPath))

	content, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		return c.store.WithTx(ctx, func(q *Queries) error {
			return q.DeleteFile(ctx, relPath)
		})
	}
	if err != nil {
		return weavererr.Wrap(err, weavererr.ErrorTypeInternal, "read file for sync").WithDetails(relPath)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return weavererr.Wrap(err, weavererr.ErrorTypeInternal, "stat file for sync").WithDetails(relPath)
	}

	return c.store.WithTx(ctx, func(q *Queries) error {
		return upsertOne(ctx, q, pendingFile{relPath: relPath, content: content, info: info})
	})
}

// GetFile returns the file record at path, or nil if absent.
func (c *ShadowCache) GetFile(ctx context.Context, relPath string) (*FileRecord, error) {
	row, err := c.store.Queries().GetFile(ctx, relPath)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "get file").WithDetails(relPath)
	}
	if row == nil {
		return nil, nil
	}
	return c.toRecord(ctx, row)
}

func (c *ShadowCache) toRecord(ctx context.Context, row *FileRow) (*FileRecord, error) {
	fm, err := unmarshalFrontmatter(row.Frontmatter)
	if err != nil {
		return nil, err
	}
	tags, err := c.tagsForFile(ctx, row.Path)
	if err != nil {
		return nil, err
	}
	return &FileRecord{
		Path:        row.Path,
		Size:        row.Size,
		MTime:       time.UnixMilli(row.MTime).UTC(),
		SeenAt:      time.UnixMilli(row.SeenAt).UTC(),
		Hash:        row.Hash,
		Frontmatter: fm,
		Title:       row.Title,
		Type:        row.Type,
		Status:      row.Status,
		Tags:        tags,
	}, nil
}

func (c *ShadowCache) tagsForFile(ctx context.Context, path string) ([]string, error) {
	rows, err := c.store.db.QueryContext(ctx, `SELECT tag FROM file_tags WHERE file_path = ? ORDER BY tag`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// QueryFiles lists files matching the given filters, AND-combined.
func (c *ShadowCache) QueryFiles(ctx context.Context, params QueryFilesParams) (*QueryFilesResult, error) {
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	var where []string
	var args []any
	query := `SELECT f.path, f.size, f.mtime, f.seen_at, f.hash, f.frontmatter, f.title, f.type, f.status FROM files f`
	if params.Tag != "" {
		query += ` JOIN file_tags ft ON ft.file_path = f.path`
		where = append(where, `ft.tag = ?`)
		args = append(args, params.Tag)
	}
	if params.Directory != "" {
		dir := strings.TrimSuffix(params.Directory, "/") + "/"
		where = append(where, `f.path LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(dir)+"%")
	}
	if params.Type != "" {
		where = append(where, `f.type = ?`)
		args = append(args, params.Type)
	}
	if params.Status != "" {
		where = append(where, `f.status = ?`)
		args = append(args, params.Status)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	countQuery := `SELECT COUNT(*) FROM (` + query + `)`
	var total int
	if err := c.store.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "count files")
	}

	query += ` ORDER BY f.path LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "query files")
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var row FileRow
		if err := rows.Scan(&row.Path, &row.Size, &row.MTime, &row.SeenAt, &row.Hash, &row.Frontmatter, &row.Title, &row.Type, &row.Status); err != nil {
			return nil, err
		}
		rec, err := c.toRecord(ctx, &row)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	return &QueryFilesResult{
		Files:   records,
		Total:   total,
		HasMore: offset+len(records) < total,
	}, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// SearchTags matches the distinct tag set against pattern (literal, `*`,
// `?`, prefix, suffix), grouping matched files per tag.
func (c *ShadowCache) SearchTags(ctx context.Context, pattern string, limit int) ([]TagSearchResult, error) {
	re, err := compileTagPattern(pattern)
	if err != nil {
		return nil, weavererr.NewValidationError(fmt.Sprintf("invalid tag pattern: %v", err))
	}

	tags, err := c.store.Queries().DistinctTags(ctx)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "distinct tags")
	}

	var matched []string
	for _, t := range tags {
		if re.MatchString(t) {
			matched = append(matched, t)
		}
	}
	sort.Strings(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]TagSearchResult, 0, len(matched))
	for _, t := range matched {
		files, err := c.store.Queries().FilesWithTag(ctx, t)
		if err != nil {
			return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "files with tag").WithDetails(t)
		}
		sort.Strings(files)
		out = append(out, TagSearchResult{Tag: t, Count: len(files), Files: files})
	}
	return out, nil
}

// SearchLinks queries the link graph, computing the broken-link flag on
// read against current file existence.
func (c *ShadowCache) SearchLinks(ctx context.Context, params SearchLinksParams) ([]LinkRecord, error) {
	direction := params.Direction
	if direction == "" {
		direction = LinkDirectionBoth
	}

	var rows []LinkRow
	if params.Source != "" && (direction == LinkDirectionOutgoing || direction == LinkDirectionBoth) {
		r, err := c.store.Queries().LinksFrom(ctx, params.Source)
		if err != nil {
			return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "links from")
		}
		rows = append(rows, r...)
	}
	if params.Target != "" && (direction == LinkDirectionIncoming || direction == LinkDirectionBoth) {
		r, err := c.store.Queries().LinksTo(ctx, params.Target)
		if err != nil {
			return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "links to")
		}
		rows = append(rows, r...)
	}

	out := make([]LinkRecord, 0, len(rows))
	for _, r := range rows {
		if params.LinkKind != "" && r.Kind != params.LinkKind {
			continue
		}
		// Link targets are stored without their .md extension (the
		// parser strips it); file records keep it.
		target, err := c.store.Queries().GetFile(ctx, r.TargetPath+".md")
		if err != nil {
			return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "resolve link target")
		}
		out = append(out, LinkRecord{
			Source:   r.SourcePath,
			Target:   r.TargetPath,
			Kind:     r.Kind,
			Resolved: target != nil,
		})
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

// SearchContent runs a full-text search over the files_fts projection
// (title + plain-text body), returning results ranked by FTS5's bm25
// relevance with a highlighted excerpt per match.
func (c *ShadowCache) SearchContent(ctx context.Context, query string, limit int) ([]ContentSearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	matches, err := c.store.Queries().SearchFTS(ctx, query, limit)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "search content")
	}

	out := make([]ContentSearchResult, 0, len(matches))
	for _, m := range matches {
		out = append(out, ContentSearchResult{Path: m.Path, Title: m.Title, Snippet: m.Snippet})
	}
	return out, nil
}

// GetStats returns the vault's aggregate statistics.
func (c *ShadowCache) GetStats(ctx context.Context) (*Stats, error) {
	q := c.store.Queries()

	totalFiles, err := q.TotalFiles(ctx)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "total files")
	}
	totalTags, err := q.TotalTags(ctx)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "total tags")
	}
	totalLinks, err := q.TotalLinks(ctx)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "total links")
	}
	topTags, err := q.TopTags(ctx, 10)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "top tags")
	}
	byType, err := q.CountByType(ctx)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "files by type")
	}
	byStatus, err := q.CountByStatus(ctx)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "files by status")
	}
	size, err := q.VaultSizeBytes(ctx)
	if err != nil {
		return nil, weavererr.Wrap(err, weavererr.ErrorTypeDatabase, "vault size")
	}

	return &Stats{
		TotalFiles:     totalFiles,
		TotalTags:      totalTags,
		TotalLinks:     totalLinks,
		TopTags:        topTags,
		FilesByType:    byType,
		FilesByStatus:  byStatus,
		VaultSizeBytes: size,
		LastUpdated:    Now(),
	}, nil
}
