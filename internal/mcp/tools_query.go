package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/weaver-md/weaver/internal/vault/cache"
	"github.com/weaver-md/weaver/internal/weavererr"
)

// registerQueryTools wires the shadow cache's read surface as
// spec.md §4.7's query_files, get_file, get_file_content, search_tags,
// search_links, get_stats tools, plus the supplemented search_content
// full-text tool. All are cacheable: they're read-only and safe to
// serve stale for the response cache's TTL.
func registerQueryTools(server *mcpsdk.Server, deps Deps, mw *Middleware) {
	type queryFilesArgs struct {
		Directory string `json:"directory,omitempty" jsonschema:"Restrict results to files under this directory"`
		Type      string `json:"type,omitempty" jsonschema:"Restrict results to this frontmatter type value"`
		Status    string `json:"status,omitempty" jsonschema:"Restrict results to this frontmatter status value"`
		Tag       string `json:"tag,omitempty" jsonschema:"Restrict results to files carrying this tag"`
		Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of files to return"`
		Offset    int    `json:"offset,omitempty" jsonschema:"Number of matching files to skip"`
	}
	registerTool(server, mw, "query_files", "List and filter vault files by directory, type, status, or tag.", true,
		func(ctx context.Context, args queryFilesArgs) (any, error) {
			return deps.Cache.QueryFiles(ctx, cache.QueryFilesParams{
				Directory: args.Directory,
				Type:      args.Type,
				Status:    args.Status,
				Tag:       args.Tag,
				Limit:     args.Limit,
				Offset:    args.Offset,
			})
		})

	type getFileArgs struct {
		Path string `json:"path" jsonschema:"Vault-relative path of the file"`
	}
	registerTool(server, mw, "get_file", "Fetch one file's cached metadata: frontmatter, tags, and timestamps.", true,
		func(ctx context.Context, args getFileArgs) (any, error) {
			if args.Path == "" {
				return nil, weavererr.NewValidationError("path is required")
			}
			return deps.Cache.GetFile(ctx, args.Path)
		})

	type getFileContentArgs struct {
		Path string `json:"path" jsonschema:"Vault-relative path of the file"`
	}
	registerTool(server, mw, "get_file_content", "Read a vault file's raw Markdown content from disk.", true,
		func(ctx context.Context, args getFileContentArgs) (any, error) {
			if args.Path == "" {
				return nil, weavererr.NewValidationError("path is required")
			}
			return readVaultFile(deps.VaultRoot, args.Path)
		})

	type searchTagsArgs struct {
		Pattern string `json:"pattern" jsonschema:"Glob-style tag pattern to match (e.g. proj-*)"`
		Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of matching tags to return"`
	}
	registerTool(server, mw, "search_tags", "Search the tag index and list files carrying each matched tag.", true,
		func(ctx context.Context, args searchTagsArgs) (any, error) {
			if args.Pattern == "" {
				return nil, weavererr.NewValidationError("pattern is required")
			}
			return deps.Cache.SearchTags(ctx, args.Pattern, args.Limit)
		})

	type searchLinksArgs struct {
		Source    string `json:"source,omitempty" jsonschema:"Restrict to links originating from this file"`
		Target    string `json:"target,omitempty" jsonschema:"Restrict to links pointing at this file"`
		Direction string `json:"direction,omitempty" jsonschema:"outgoing, incoming, or both (default both)"`
		LinkKind  string `json:"link_kind,omitempty" jsonschema:"Restrict to this link kind (wikilink or markdown-link)"`
		Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of links to return"`
	}
	registerTool(server, mw, "search_links", "Query the vault's link graph by source, target, direction, or kind.", true,
		func(ctx context.Context, args searchLinksArgs) (any, error) {
			direction := cache.LinkDirectionBoth
			switch args.Direction {
			case string(cache.LinkDirectionOutgoing):
				direction = cache.LinkDirectionOutgoing
			case string(cache.LinkDirectionIncoming):
				direction = cache.LinkDirectionIncoming
			case "", string(cache.LinkDirectionBoth):
				direction = cache.LinkDirectionBoth
			default:
				return nil, weavererr.NewValidationError("direction must be outgoing, incoming, or both")
			}
			return deps.Cache.SearchLinks(ctx, cache.SearchLinksParams{
				Source:    args.Source,
				Target:    args.Target,
				Direction: direction,
				LinkKind:  args.LinkKind,
				Limit:     args.Limit,
			})
		})

	type getStatsArgs struct{}
	registerTool(server, mw, "get_stats", "Report vault-wide aggregate statistics: file, tag, and link counts.", true,
		func(ctx context.Context, args getStatsArgs) (any, error) {
			return deps.Cache.GetStats(ctx)
		})

	type searchContentArgs struct {
		Query string `json:"query" jsonschema:"Full-text query matched against the files_fts title/body projection"`
		Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of matching files to return"`
	}
	registerTool(server, mw, "search_content", "Full-text search vault file bodies via the FTS5 index (supplements the tag/link index).", true,
		func(ctx context.Context, args searchContentArgs) (any, error) {
			if args.Query == "" {
				return nil, weavererr.NewValidationError("query is required")
			}
			return deps.Cache.SearchContent(ctx, args.Query, args.Limit)
		})
}

func readVaultFile(root, relPath string) (string, error) {
	abs := filepath.Join(root, relPath)
	if !strings.HasPrefix(abs, filepath.Clean(root)+string(filepath.Separator)) {
		return "", weavererr.NewValidationError("path escapes the vault root")
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", weavererr.NewNotFoundError(relPath)
		}
		return "", weavererr.Wrapf(err, weavererr.ErrorTypeInternal, "read %s", relPath)
	}
	return string(content), nil
}
