// Package search implements full-text and fuzzy document search on top of
// PostgreSQL. Ranked matching runs against the documents.search_vector column
// maintained by trigger; fuzzy matching uses pg_trgm similarity. The engine
// is postgres-only: the sqlite development driver has none of the required
// extensions and is refused at construction.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/docvault-io/docvault/internal/db"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// similarityThreshold is the pg_trgm cutoff for fuzzy matches.
	similarityThreshold = 0.3

	titleHeadlineOpts   = "StartSel=<b>, StopSel=</b>, MaxWords=50, MinWords=10"
	contentHeadlineOpts = "StartSel=<b>, StopSel=</b>, MaxWords=50, MinWords=10, MaxFragments=3"
)

var (
	// ErrInvalidQuery is returned when a boolean query does not parse as
	// tsquery syntax.
	ErrInvalidQuery = errors.New("search: invalid query syntax")

	// ErrUnsupportedDriver is returned when the engine is constructed over
	// a non-postgres database.
	ErrUnsupportedDriver = errors.New("search: full-text search requires postgres")
)

// Mode selects how the query string is interpreted.
type Mode string

const (
	ModeSimple  Mode = "simple"  // plainto_tsquery, words ANDed
	ModePhrase  Mode = "phrase"  // phraseto_tsquery, exact word order
	ModeBoolean Mode = "boolean" // to_tsquery, & | ! operators
	ModeFuzzy   Mode = "fuzzy"   // pg_trgm similarity, typo tolerant
)

// tsqueryFunc maps FTS modes to their postgres parser. Fuzzy is not listed;
// it does not go through tsquery at all.
var tsqueryFunc = map[Mode]string{
	ModeSimple:  "plainto_tsquery",
	ModePhrase:  "phraseto_tsquery",
	ModeBoolean: "to_tsquery",
}

// ParseMode normalizes a mode string. Empty and unknown values fall back to
// simple so a bad query parameter degrades instead of failing.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModePhrase, ModeBoolean, ModeFuzzy:
		return Mode(s)
	default:
		return ModeSimple
	}
}

// Filters narrows a search. All fields are optional and combined with AND.
type Filters struct {
	OwnerID  *uuid.UUID
	DateFrom *time.Time
	DateTo   *time.Time
	Meta     map[string]any // jsonb containment on documents.meta
}

// Highlight is one marked-up fragment from a matched document.
type Highlight struct {
	Field    string `json:"field"`
	Fragment string `json:"fragment"`
}

// Result is a matched document with its rank and highlights.
type Result struct {
	Document   db.Document `json:"document"`
	Rank       float64     `json:"rank"`
	Highlights []Highlight `json:"highlights"`
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	Text       string    `json:"text"`
	DocumentID uuid.UUID `json:"document_id"`
	Field      string    `json:"field"`
}

// Engine runs searches over the documents table.
type Engine struct {
	db  *gorm.DB
	log *zap.Logger
}

// New builds an Engine. Non-postgres databases are refused.
func New(database *gorm.DB, log *zap.Logger) (*Engine, error) {
	if !db.IsPostgres(database) {
		return nil, ErrUnsupportedDriver
	}
	return &Engine{db: database, log: log}, nil
}

// Search runs the query in the given mode and returns one page of ranked
// results plus the total match count. Page numbering is 1-based.
func (e *Engine) Search(ctx context.Context, query string, mode Mode, filters Filters, page, pageSize int) ([]Result, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	if mode == ModeFuzzy {
		return e.searchFuzzy(ctx, query, filters, page, pageSize)
	}
	return e.searchFTS(ctx, query, mode, filters, page, pageSize)
}

// searchRow carries one FTS result row out of the raw query.
type searchRow struct {
	db.Document
	Rank             float64 `gorm:"column:rank"`
	TitleHighlight   string  `gorm:"column:title_highlight"`
	ContentHighlight string  `gorm:"column:content_highlight"`
}

func (e *Engine) searchFTS(ctx context.Context, query string, mode Mode, filters Filters, page, pageSize int) ([]Result, int64, error) {
	parser, ok := tsqueryFunc[mode]
	if !ok {
		parser = tsqueryFunc[ModeSimple]
	}

	where, args := buildFilterSQL(filters)
	cond := "search_vector @@ " + parser + "('english', ?)" + where

	var total int64
	countArgs := append([]any{query}, args...)
	err := e.db.WithContext(ctx).
		Raw("SELECT count(*) FROM documents WHERE "+cond, countArgs...).
		Scan(&total).Error
	if err != nil {
		return nil, 0, e.wrapQueryErr(err)
	}

	sql := fmt.Sprintf(`
		SELECT documents.*,
		       ts_rank(search_vector, %[1]s('english', ?)) AS rank,
		       ts_headline('english', title, %[1]s('english', ?), ?) AS title_highlight,
		       ts_headline('english', coalesce(content, ''), %[1]s('english', ?), ?) AS content_highlight
		FROM documents
		WHERE %[2]s
		ORDER BY rank DESC
		LIMIT ? OFFSET ?`, parser, cond)

	queryArgs := []any{query, query, titleHeadlineOpts, query, contentHeadlineOpts, query}
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, pageSize, (page-1)*pageSize)

	var rows []searchRow
	if err := e.db.WithContext(ctx).Raw(sql, queryArgs...).Scan(&rows).Error; err != nil {
		return nil, 0, e.wrapQueryErr(err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var highlights []Highlight
		if strings.Contains(row.TitleHighlight, "<b>") {
			highlights = append(highlights, Highlight{Field: "title", Fragment: row.TitleHighlight})
		}
		if strings.Contains(row.ContentHighlight, "<b>") {
			highlights = append(highlights, Highlight{Field: "content", Fragment: row.ContentHighlight})
		}
		results = append(results, Result{Document: row.Document, Rank: row.Rank, Highlights: highlights})
	}
	return results, total, nil
}

// fuzzyRow carries one trigram result row.
type fuzzyRow struct {
	db.Document
	CombinedSim float64 `gorm:"column:combined_sim"`
	TitleSim    float64 `gorm:"column:title_sim"`
	ContentSim  float64 `gorm:"column:content_sim"`
}

func (e *Engine) searchFuzzy(ctx context.Context, query string, filters Filters, page, pageSize int) ([]Result, int64, error) {
	where, args := buildFilterSQL(filters)
	cond := "(similarity(title, ?) > ? OR similarity(coalesce(content, ''), ?) > ?)" + where

	var total int64
	countArgs := append([]any{query, similarityThreshold, query, similarityThreshold}, args...)
	err := e.db.WithContext(ctx).
		Raw("SELECT count(*) FROM documents WHERE "+cond, countArgs...).
		Scan(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("search: fuzzy: %w", err)
	}

	// Title matches weigh double: a typo in a title is a stronger signal
	// than the same typo buried in content.
	sql := `
		SELECT documents.*,
		       similarity(title, ?) * 2 + similarity(coalesce(content, ''), ?) AS combined_sim,
		       similarity(title, ?) AS title_sim,
		       similarity(coalesce(content, ''), ?) AS content_sim
		FROM documents
		WHERE ` + cond + `
		ORDER BY combined_sim DESC
		LIMIT ? OFFSET ?`

	queryArgs := []any{query, query, query, query, query, similarityThreshold, query, similarityThreshold}
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, pageSize, (page-1)*pageSize)

	var rows []fuzzyRow
	if err := e.db.WithContext(ctx).Raw(sql, queryArgs...).Scan(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("search: fuzzy: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var highlights []Highlight
		if row.TitleSim > similarityThreshold {
			highlights = append(highlights, Highlight{Field: "title", Fragment: row.Title})
		}
		if row.ContentSim > similarityThreshold && row.Content != "" {
			highlights = append(highlights, Highlight{Field: "content", Fragment: contentFragment(row.Content)})
		}
		results = append(results, Result{Document: row.Document, Rank: row.CombinedSim, Highlights: highlights})
	}
	return results, total, nil
}

// Suggest returns up to limit title autocompletions for the query substring.
func (e *Engine) Suggest(ctx context.Context, query string, limit int, ownerID *uuid.UUID) ([]Suggestion, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = 10
	}

	sql := "SELECT id, title FROM documents WHERE title ILIKE ?"
	args := []any{"%" + escapeLike(query) + "%"}
	if ownerID != nil {
		sql += " AND owner_id = ?"
		args = append(args, *ownerID)
	}
	sql += " LIMIT ?"
	args = append(args, limit)

	var rows []struct {
		ID    uuid.UUID
		Title string
	}
	if err := e.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("search: suggestions: %w", err)
	}

	out := make([]Suggestion, 0, len(rows))
	for _, row := range rows {
		out = append(out, Suggestion{Text: row.Title, DocumentID: row.ID, Field: "title"})
	}
	return out, nil
}

// buildFilterSQL renders the optional filters as ANDed conditions. The
// returned string is either empty or starts with " AND ".
func buildFilterSQL(f Filters) (string, []any) {
	var sb strings.Builder
	var args []any

	if f.OwnerID != nil {
		sb.WriteString(" AND owner_id = ?")
		args = append(args, *f.OwnerID)
	}
	if f.DateFrom != nil {
		sb.WriteString(" AND created_at >= ?")
		args = append(args, *f.DateFrom)
	}
	if f.DateTo != nil {
		sb.WriteString(" AND created_at <= ?")
		args = append(args, *f.DateTo)
	}
	if len(f.Meta) > 0 {
		// Containment against the GIN-indexed meta column. The map always
		// marshals; a failure here would be a programming error.
		if payload, err := json.Marshal(f.Meta); err == nil {
			sb.WriteString(" AND meta @> ?::jsonb")
			args = append(args, string(payload))
		}
	}
	return sb.String(), args
}

// wrapQueryErr maps tsquery parse failures to ErrInvalidQuery so handlers can
// answer 400 instead of 500. Boolean mode passes user input straight to
// to_tsquery, which rejects malformed operator syntax.
func (e *Engine) wrapQueryErr(err error) error {
	if strings.Contains(err.Error(), "tsquery") {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return fmt.Errorf("search: query: %w", err)
}

// contentFragment truncates content for fuzzy highlights. The cut backs up
// to a rune boundary so a multi-byte character is never split.
func contentFragment(content string) string {
	if len(content) <= 200 {
		return content
	}
	cut := 200
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

// escapeLike neutralizes LIKE metacharacters in user input.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
