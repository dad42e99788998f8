package relay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (FTS5 tool index)
)

// ToolHandler executes one tool call. Args and result are free-form maps;
// the handler owns validation against its metadata schema.
type ToolHandler func(ctx context.Context, call *ToolCallContext, args map[string]any) (map[string]any, error)

type registeredTool struct {
	meta    ToolMetadata
	handler ToolHandler
}

// Query cache bounds. Registering a tool invalidates the whole cache —
// correctness over staleness.
const (
	toolCacheTTL     = 20 * time.Second
	toolCacheMaxSize = 64
)

type toolCacheEntry struct {
	items   []ToolShortlistItem
	expires time.Time
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithRegistryLogger sets the structured logger for index operations.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *ToolRegistry) { r.logger = l }
}

// HandlerWrapper decorates a handler at registration time. The composition
// root uses it to wrap every tool with instrumentation.
type HandlerWrapper func(name string, handler ToolHandler) ToolHandler

// WithHandlerWrapper applies w to every handler passed to Register.
func WithHandlerWrapper(w HandlerWrapper) RegistryOption {
	return func(r *ToolRegistry) { r.wrap = w }
}

// ToolRegistry is the indexed catalog of callable tools. Metadata is
// registered once at startup and immutable afterwards. Ranked keyword
// queries go through an in-memory SQLite FTS5 index with a deterministic
// substring scan as fallback.
type ToolRegistry struct {
	mu     sync.Mutex
	tools  map[string]registeredTool
	db     *sql.DB
	ftsOK  bool
	cache  map[string]toolCacheEntry
	order  []string // cache keys, oldest first
	wrap   HandlerWrapper
	now    func() time.Time
	logger *slog.Logger
}

// NewToolRegistry creates an empty registry and its in-memory FTS index.
// If the virtual table cannot be created the registry stays usable through
// the substring fallback.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		tools:  make(map[string]registeredTool),
		cache:  make(map[string]toolCacheEntry),
		now:    time.Now,
		logger: nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err == nil {
		db.SetMaxOpenConns(1)
		_, err = db.Exec(`CREATE VIRTUAL TABLE tools_fts USING fts5(name UNINDEXED, body)`)
	}
	if err != nil {
		r.logger.Warn("tool index unavailable, using substring fallback", "error", err)
	} else {
		r.db = db
		r.ftsOK = true
	}
	return r
}

// Close releases the index database.
func (r *ToolRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// indexBody is the text indexed for one tool: name, tags, and both
// summaries.
func indexBody(meta ToolMetadata) string {
	return strings.Join([]string{
		meta.Name,
		strings.Join(meta.Tags, " "),
		meta.RoutingSummary,
		meta.InvocationSummary,
	}, " ")
}

// Register adds a tool under its metadata name. Duplicate names are a
// configuration error. The query cache is invalidated entirely.
func (r *ToolRegistry) Register(meta ToolMetadata, handler ToolHandler) error {
	if meta.Name == "" {
		return &ConfigError{Msg: "tool name is empty"}
	}
	if handler == nil {
		return &ConfigError{Msg: "tool " + meta.Name + " has no handler"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[meta.Name]; exists {
		return &ConfigError{Msg: "tool " + meta.Name + " already registered"}
	}
	if r.wrap != nil {
		handler = r.wrap(meta.Name, handler)
	}
	r.tools[meta.Name] = registeredTool{meta: meta, handler: handler}

	if r.ftsOK {
		if _, err := r.db.Exec(`INSERT INTO tools_fts(name, body) VALUES(?, ?)`, meta.Name, strings.ToLower(indexBody(meta))); err != nil {
			r.logger.Warn("tool index insert failed", "tool", meta.Name, "error", err)
			r.ftsOK = false
		}
	}

	r.cache = make(map[string]toolCacheEntry)
	r.order = r.order[:0]
	return nil
}

// Metadata returns the metadata for name.
func (r *ToolRegistry) Metadata(name string) (ToolMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t.meta, ok
}

// Handler returns the handler for name.
func (r *ToolRegistry) Handler(name string) (ToolHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t.handler, ok
}

// List returns all registered metadata, sorted by name.
func (r *ToolRegistry) List() []ToolMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ToolMetadata, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var queryTokenPat = regexp.MustCompile(`[\pL\pN._]+`)

// FindTools returns up to k shortlist items ranked for query. Identical
// (query, k) pairs are served from a short-TTL cache.
func (r *ToolRegistry) FindTools(query string, k int) []ToolShortlistItem {
	if k < 1 {
		k = 1
	}
	key := fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(query)), k)

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && r.now().Before(entry.expires) {
		items := append([]ToolShortlistItem(nil), entry.items...)
		r.mu.Unlock()
		return items
	}
	r.mu.Unlock()

	items := r.queryIndex(query, k)
	if len(items) == 0 {
		items = r.substringScan(query, k)
	}

	r.mu.Lock()
	// Refreshing an expired key must not leave a stale occurrence in order,
	// or a later eviction would delete the fresh entry.
	if _, ok := r.cache[key]; ok {
		for i, k := range r.order {
			if k == key {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	if len(r.order) >= toolCacheMaxSize {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.cache, oldest)
	}
	r.cache[key] = toolCacheEntry{items: items, expires: r.now().Add(toolCacheTTL)}
	r.order = append(r.order, key)
	r.mu.Unlock()

	return append([]ToolShortlistItem(nil), items...)
}

// queryIndex runs the FTS5 match. FTS5 rank is negative (closer to zero is
// better); -rank is used as the score.
func (r *ToolRegistry) queryIndex(query string, k int) []ToolShortlistItem {
	r.mu.Lock()
	ftsOK := r.ftsOK
	db := r.db
	r.mu.Unlock()
	if !ftsOK {
		return nil
	}

	tokens := queryTokenPat.FindAllString(strings.ToLower(query), -1)
	if len(tokens) == 0 {
		return nil
	}
	for i, tok := range tokens {
		tokens[i] = `"` + tok + `"`
	}
	match := strings.Join(tokens, " OR ")

	rows, err := db.Query(`SELECT name, rank FROM tools_fts WHERE tools_fts MATCH ? ORDER BY rank LIMIT ?`, match, k)
	if err != nil {
		r.logger.Warn("tool index query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []ToolShortlistItem
	for rows.Next() {
		var name string
		var rank float64
		if err := rows.Scan(&name, &rank); err != nil {
			return nil
		}
		meta, ok := r.Metadata(name)
		if !ok {
			continue
		}
		out = append(out, shortlistItem(meta, -rank))
	}
	if rows.Err() != nil {
		return nil
	}
	return out
}

// substringScan is the deterministic fallback: count query-token
// occurrences over the same indexed fields, tie-broken by tool name.
func (r *ToolRegistry) substringScan(query string, k int) []ToolShortlistItem {
	tokens := queryTokenPat.FindAllString(strings.ToLower(query), -1)
	if len(tokens) == 0 {
		return nil
	}

	var out []ToolShortlistItem
	for _, meta := range r.List() {
		body := strings.ToLower(indexBody(meta))
		count := 0
		for _, tok := range tokens {
			count += strings.Count(body, tok)
		}
		if count > 0 {
			out = append(out, shortlistItem(meta, float64(count)))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func shortlistItem(meta ToolMetadata, score float64) ToolShortlistItem {
	return ToolShortlistItem{
		Name:              meta.Name,
		Tags:              append([]string(nil), meta.Tags...),
		RoutingSummary:    meta.RoutingSummary,
		InvocationSummary: meta.InvocationSummary,
		Score:             score,
	}
}
