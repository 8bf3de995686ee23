package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the variants fts column, with ts_headline
// snippets from the briefing text.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "v.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2
	if q.FilterProjectID != "" {
		where += fmt.Sprintf(" AND v.project_id = $%d", argN)
		args = append(args, q.FilterProjectID)
		argN++
	}
	if q.FilterLanguage != "" {
		where += fmt.Sprintf(" AND v.language = $%d", argN)
		args = append(args, q.FilterLanguage)
		argN++
	}

	countSQL := "SELECT count(*) FROM variants v WHERE " + where

	dataSQL := fmt.Sprintf(`
		SELECT v.id, v.project_id, v.content_type_id, COALESCE(v.channel_id, ''), v.language,
			COALESCE(v.primary_keyword, '') AS title,
			ts_headline('english', coalesce(v.briefing, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM variants v
		WHERE %s
		ORDER BY ts_rank(v.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.ContentTypeID, &r.ChannelID, &r.Language, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadProjectRecords returns every searchable variant record of a project,
// for reindexing after keyword or briefing writes. An empty projectID loads
// the whole table.
func (p *PgFTS) LoadProjectRecords(ctx context.Context, projectID string) ([]VariantRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, content_type_id, COALESCE(channel_id, ''), language,
			COALESCE(primary_keyword, ''), COALESCE(secondary_keywords::text, '[]'), COALESCE(briefing, '')
		FROM variants
		WHERE ($1='' OR project_id=$1)
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load variant records: %w", err)
	}
	defer rows.Close()

	records := make([]VariantRecord, 0)
	for rows.Next() {
		var v VariantRecord
		var secondaryRaw string
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.ContentTypeID, &v.ChannelID, &v.Language, &v.PrimaryKeyword, &secondaryRaw, &v.Briefing); err != nil {
			return nil, fmt.Errorf("scan variant record: %w", err)
		}
		_ = json.Unmarshal([]byte(secondaryRaw), &v.SecondaryKeywords)
		records = append(records, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant records: %w", err)
	}
	return records, nil
}
