package cache

import "time"

// FileRecord is the Shadow Cache's public view of one vault file,
// combining the files row with its derived tag and frontmatter data.
type FileRecord struct {
	Path        string
	Size        int64
	MTime       time.Time
	SeenAt      time.Time
	Hash        string
	Frontmatter map[string]any
	Title       string
	Type        string
	Status      string
	Tags        []string
}

// QueryFilesParams filters the files listing. Zero values mean
// "unconstrained" for that field.
type QueryFilesParams struct {
	Directory string
	Type      string
	Status    string
	Tag       string
	Limit     int
	Offset    int
}

// QueryFilesResult is queryFiles' paginated response shape.
type QueryFilesResult struct {
	Files   []FileRecord
	Total   int
	HasMore bool
}

// TagSearchResult groups one matched tag with its files.
type TagSearchResult struct {
	Tag   string
	Count int
	Files []string
}

// LinkDirection selects which end of a link searchLinks matches on.
type LinkDirection string

const (
	LinkDirectionOutgoing LinkDirection = "outgoing"
	LinkDirectionIncoming LinkDirection = "incoming"
	LinkDirectionBoth     LinkDirection = "both"
)

// SearchLinksParams filters the link-graph query.
type SearchLinksParams struct {
	Source    string
	Target    string
	Direction LinkDirection
	LinkKind  string
	Limit     int
}

// LinkRecord is one edge in the link graph, annotated with whether its
// target currently resolves to a file record.
type LinkRecord struct {
	Source   string
	Target   string
	Kind     string
	Resolved bool
}

// ContentSearchResult is one searchContent hit against the files_fts
// full-text projection.
type ContentSearchResult struct {
	Path    string
	Title   string
	Snippet string
}

// Stats is getStats' aggregate view of the vault.
type Stats struct {
	TotalFiles     int
	TotalTags      int
	TotalLinks     int
	TopTags        []TagCount
	FilesByType    map[string]int
	FilesByStatus  map[string]int
	VaultSizeBytes int64
	LastUpdated    time.Time
}

// SyncResult is syncVault's return shape.
type SyncResult struct {
	Scanned  int
	Updated  int
	Deleted  int
	Duration time.Duration
}
