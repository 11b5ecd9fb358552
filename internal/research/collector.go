// Package research gathers public snippets about a recipient from the
// web-search API ahead of email generation.
package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coldbrewhq/coldbrew/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrNoFindings signals that research ran but produced nothing usable:
// the search API is unavailable or every query came back empty. Distinct
// from an empty-but-successful result so prompts can say "no research
// available" instead of silently omitting context.
var ErrNoFindings = errors.New("no research findings available")

// MaxSnippets caps the findings list regardless of how many queries succeed.
const MaxSnippets = 10

// perQueryLimit caps results requested from a single search call.
const perQueryLimit = 3

// cacheTTL bounds how long a recipient's snippets are reused.
const cacheTTL = time.Hour

// Searcher is the slice of the search client the collector needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, apiKeyOverride string) ([]string, error)
	Configured() bool
}

// Collector runs the fixed query battery for a recipient.
type Collector struct {
	searcher Searcher
	cache    *redis.Client
	logger   *slog.Logger
}

// NewCollector creates a collector. cache may be nil to disable caching.
func NewCollector(searcher Searcher, cache *redis.Client, logger *slog.Logger) *Collector {
	return &Collector{searcher: searcher, cache: cache, logger: logger}
}

// Request identifies the person to research.
type Request struct {
	Name    string
	Role    string
	Company string
	Mode    string // models.SearchModeBasic or models.SearchModeDeep
	// APIKey optionally overrides the service search key (user BYOK)
	APIKey string
}

// Collect issues the query battery and returns up to MaxSnippets snippets
// in query-issue order. Per-query failures are logged and skipped; the
// batch never aborts early. Returns ErrNoFindings when the search API is
// unconfigured or zero snippets were found.
func (c *Collector) Collect(ctx context.Context, req Request) ([]string, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("recipient name is required")
	}
	if !c.searcher.Configured() && req.APIKey == "" {
		return nil, ErrNoFindings
	}

	if cached, ok := c.cacheGet(ctx, req); ok {
		return cached, nil
	}

	queries := buildQueries(req)

	var snippets []string
	for _, q := range queries {
		if len(snippets) >= MaxSnippets {
			break
		}
		results, err := c.searcher.Search(ctx, q, perQueryLimit, req.APIKey)
		if err != nil {
			// A failing query contributes nothing; the rest still run
			c.logger.Warn("search query failed", "query", q, "error", err)
			continue
		}
		for _, s := range results {
			if len(snippets) >= MaxSnippets {
				break
			}
			snippets = append(snippets, s)
		}
	}

	if len(snippets) == 0 {
		return nil, ErrNoFindings
	}

	c.cacheSet(ctx, req, snippets)
	return snippets, nil
}

// JoinFindings folds snippets into the single text block stored on
// GeneratedEmail rows and embedded in prompts.
func JoinFindings(snippets []string) string {
	return strings.Join(snippets, "\n")
}

func buildQueries(req Request) []string {
	identity := strings.TrimSpace(strings.Join([]string{req.Name, req.Role, req.Company}, " "))

	queries := []string{
		identity,
		req.Name + " LinkedIn",
		req.Name + " education background",
		req.Name + " recent projects",
		req.Name + " awards",
	}

	if req.Mode == models.SearchModeDeep {
		queries = append(queries,
			req.Name+" publications talks",
			req.Name+" interview podcast",
			strings.TrimSpace(req.Name+" "+req.Company+" news"),
		)
	}

	return queries
}

func (c *Collector) cacheKey(req Request) string {
	h := sha256.Sum256([]byte(strings.ToLower(req.Name + "|" + req.Company + "|" + req.Role)))
	return "research:" + req.Mode + ":" + hex.EncodeToString(h[:16])
}

func (c *Collector) cacheGet(ctx context.Context, req Request) ([]string, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, err := c.cache.Get(ctx, c.cacheKey(req)).Bytes()
	if err != nil {
		return nil, false
	}
	var snippets []string
	if err := json.Unmarshal(data, &snippets); err != nil || len(snippets) == 0 {
		return nil, false
	}
	return snippets, true
}

func (c *Collector) cacheSet(ctx context.Context, req Request, snippets []string) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(snippets)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.cacheKey(req), data, cacheTTL).Err(); err != nil {
		c.logger.Warn("failed to cache research snippets", "error", err)
	}
}
