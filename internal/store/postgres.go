package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"briefdesk/api/internal/requirement"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ListContentTypes(ctx context.Context) ([]ContentType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, seo_required_default, created_at, updated_at
		FROM content_types
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list content types: %w", err)
	}
	defer rows.Close()

	items := make([]ContentType, 0)
	for rows.Next() {
		var item ContentType
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.SEORequiredDefault, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan content type: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content types: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM projects
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Slug, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM channels
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	items := make([]Channel, 0)
	for rows.Next() {
		var item Channel
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListVariants(ctx context.Context, projectID, contentTypeID string) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content_type_id, channel_id, language, seo_required,
			primary_keyword, COALESCE(secondary_keywords::text, 'null'), COALESCE(briefing, ''), updated_at
		FROM variants
		WHERE project_id=$1 AND ($2='' OR content_type_id=$2)
		ORDER BY content_type_id ASC, channel_id ASC NULLS FIRST, language ASC
	`, projectID, contentTypeID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	items := make([]Variant, 0)
	for rows.Next() {
		item, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVariant(ctx context.Context, variantID string) (Variant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, content_type_id, channel_id, language, seo_required,
			primary_keyword, COALESCE(secondary_keywords::text, 'null'), COALESCE(briefing, ''), updated_at
		FROM variants
		WHERE id=$1
	`, variantID)
	return scanVariant(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVariant(row rowScanner) (Variant, error) {
	var item Variant
	var channelID sql.NullString
	var seoRequired sql.NullBool
	var primaryKeyword sql.NullString
	var secondaryRaw string
	if err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.ContentTypeID,
		&channelID,
		&item.Language,
		&seoRequired,
		&primaryKeyword,
		&secondaryRaw,
		&item.Briefing,
		&item.UpdatedAt,
	); err != nil {
		return Variant{}, err
	}
	if channelID.Valid {
		item.ChannelID = &channelID.String
	}
	if seoRequired.Valid {
		item.SEORequired = &seoRequired.Bool
	}
	if primaryKeyword.Valid {
		item.PrimaryKeyword = &primaryKeyword.String
	}
	_ = json.Unmarshal([]byte(secondaryRaw), &item.SecondaryKeywords)
	return item, nil
}

// GetOverrideLayers loads the four override layers for one variant in a
// single query. The channel join must be null-safe: the no-channel variant
// matches a channel override whose channel_id is NULL, and only that one.
func (s *PostgresStore) GetOverrideLayers(ctx context.Context, variantID string) (OverrideLayers, error) {
	const query = `
		SELECT v.id, v.project_id, v.content_type_id, v.channel_id, v.language,
			ct.seo_required_default, po.required, co.required, v.seo_required
		FROM variants v
		JOIN content_types ct ON ct.id = v.content_type_id
		LEFT JOIN project_seo_overrides po
			ON po.project_id = v.project_id AND po.content_type_id = v.content_type_id
		LEFT JOIN channel_seo_overrides co
			ON co.project_id = v.project_id AND co.content_type_id = v.content_type_id
			AND co.channel_id IS NOT DISTINCT FROM v.channel_id
		WHERE v.id = $1
	`
	var item OverrideLayers
	var channelID sql.NullString
	var project, channel, variant sql.NullBool
	err := s.db.QueryRowContext(ctx, query, variantID).Scan(
		&item.VariantID,
		&item.Key.ProjectID,
		&item.Key.ContentTypeID,
		&channelID,
		&item.Key.Language,
		&item.Layers.Global,
		&project,
		&channel,
		&variant,
	)
	if err != nil {
		return OverrideLayers{}, err
	}
	if channelID.Valid {
		item.Key.ChannelID = &channelID.String
	}
	item.Layers.Project = nullableBool(project)
	item.Layers.Channel = nullableBool(channel)
	item.Layers.Variant = nullableBool(variant)
	return item, nil
}

func nullableBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}

// SetProjectOverride writes or clears the project-layer override. A nil
// value deletes the row; row absence is the inherit state at this layer.
func (s *PostgresStore) SetProjectOverride(ctx context.Context, projectID, contentTypeID string, value *bool) (UpsertOutcome, error) {
	if value == nil {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM project_seo_overrides
			WHERE project_id=$1 AND content_type_id=$2
		`, projectID, contentTypeID); err != nil {
			return "", fmt.Errorf("clear project override: %w", err)
		}
		return OutcomeCleared, nil
	}

	// xmax = 0 only on freshly inserted rows, so it distinguishes the
	// insert path from the conflict-update path of the upsert.
	var inserted bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO project_seo_overrides (project_id, content_type_id, required)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, content_type_id)
		DO UPDATE SET required=EXCLUDED.required, updated_at=NOW()
		RETURNING (xmax = 0)
	`, projectID, contentTypeID, *value).Scan(&inserted)
	if err != nil {
		return "", fmt.Errorf("upsert project override: %w", err)
	}
	if inserted {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

// SetChannelOverride writes or clears the channel-layer override. channelID
// nil addresses the generic/no-channel key, which the unique constraint
// treats as a distinct value (NULLS NOT DISTINCT).
func (s *PostgresStore) SetChannelOverride(ctx context.Context, projectID, contentTypeID string, channelID *string, value *bool) (UpsertOutcome, error) {
	if value == nil {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM channel_seo_overrides
			WHERE project_id=$1 AND content_type_id=$2 AND channel_id IS NOT DISTINCT FROM $3
		`, projectID, contentTypeID, channelID); err != nil {
			return "", fmt.Errorf("clear channel override: %w", err)
		}
		return OutcomeCleared, nil
	}

	var inserted bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO channel_seo_overrides (project_id, content_type_id, channel_id, required)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, content_type_id, channel_id)
		DO UPDATE SET required=EXCLUDED.required, updated_at=NOW()
		RETURNING (xmax = 0)
	`, projectID, contentTypeID, channelID, *value).Scan(&inserted)
	if err != nil {
		return "", fmt.Errorf("upsert channel override: %w", err)
	}
	if inserted {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

// SetVariantOverride upserts the variant row for key, creating it implicitly
// if this combination has never been written before. Unlike the project and
// channel layers, inherit is stored as a NULL column, not row absence - the
// row persists once created.
func (s *PostgresStore) SetVariantOverride(ctx context.Context, id string, key VariantKey, value *bool) (string, UpsertOutcome, error) {
	var variantID string
	var inserted bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO variants (id, project_id, content_type_id, channel_id, language, seo_required)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, content_type_id, channel_id, language)
		DO UPDATE SET seo_required=EXCLUDED.seo_required, updated_at=NOW()
		RETURNING id, (xmax = 0)
	`, id, key.ProjectID, key.ContentTypeID, key.ChannelID, key.Language, value).Scan(&variantID, &inserted)
	if err != nil {
		return "", "", fmt.Errorf("upsert variant override: %w", err)
	}
	switch {
	case inserted:
		return variantID, OutcomeCreated, nil
	case value == nil:
		return variantID, OutcomeCleared, nil
	default:
		return variantID, OutcomeUpdated, nil
	}
}

// SetVariantOverrideByID updates the override of an existing variant row.
// Returns false when no row matched.
func (s *PostgresStore) SetVariantOverrideByID(ctx context.Context, variantID string, value *bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE variants SET seo_required=$2, updated_at=NOW() WHERE id=$1
	`, variantID, value)
	if err != nil {
		return false, fmt.Errorf("set variant override: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set variant override rows: %w", err)
	}
	return affected > 0, nil
}

// BulkSetVariantOverrides overwrites the override of every listed variant
// unconditionally, as one statement. Existing per-variant customizations are
// lost; the caller is expected to have confirmed that with the user. The
// project filter keeps a stale id list from touching other projects' rows.
func (s *PostgresStore) BulkSetVariantOverrides(ctx context.Context, projectID string, variantIDs []string, value *bool) (int64, error) {
	if len(variantIDs) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE variants SET seo_required=$3, updated_at=NOW()
		WHERE project_id=$1 AND id = ANY($2)
	`, projectID, variantIDs, value)
	if err != nil {
		return 0, fmt.Errorf("bulk set variant overrides: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk set variant overrides rows: %w", err)
	}
	return affected, nil
}

// UpsertVariantKeywords writes the keyword pair for key, creating the
// variant row if needed.
func (s *PostgresStore) UpsertVariantKeywords(ctx context.Context, id string, key VariantKey, primary *string, secondary []string) (string, UpsertOutcome, error) {
	var secondaryArg any
	if secondary != nil {
		encoded, err := json.Marshal(secondary)
		if err != nil {
			return "", "", fmt.Errorf("marshal secondary keywords: %w", err)
		}
		secondaryArg = string(encoded)
	}
	var variantID string
	var inserted bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO variants (id, project_id, content_type_id, channel_id, language, primary_keyword, secondary_keywords)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (project_id, content_type_id, channel_id, language)
		DO UPDATE SET primary_keyword=EXCLUDED.primary_keyword, secondary_keywords=EXCLUDED.secondary_keywords, updated_at=NOW()
		RETURNING id, (xmax = 0)
	`, id, key.ProjectID, key.ContentTypeID, key.ChannelID, key.Language, primary, secondaryArg).Scan(&variantID, &inserted)
	if err != nil {
		return "", "", fmt.Errorf("upsert variant keywords: %w", err)
	}
	if inserted {
		return variantID, OutcomeCreated, nil
	}
	return variantID, OutcomeUpdated, nil
}

// UpdateVariantKeywords rewrites the keyword pair of an existing variant.
func (s *PostgresStore) UpdateVariantKeywords(ctx context.Context, variantID string, primary *string, secondary []string) (bool, error) {
	var secondaryArg any
	if secondary != nil {
		encoded, err := json.Marshal(secondary)
		if err != nil {
			return false, fmt.Errorf("marshal secondary keywords: %w", err)
		}
		secondaryArg = string(encoded)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE variants SET primary_keyword=$2, secondary_keywords=$3::jsonb, updated_at=NOW() WHERE id=$1
	`, variantID, primary, secondaryArg)
	if err != nil {
		return false, fmt.Errorf("update variant keywords: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update variant keywords rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateVariantBriefing(ctx context.Context, variantID, briefing string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE variants SET briefing=$2, updated_at=NOW() WHERE id=$1
	`, variantID, briefing)
	if err != nil {
		return false, fmt.Errorf("update variant briefing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update variant briefing rows: %w", err)
	}
	return affected > 0, nil
}

// GetEffectiveRequirement reads one row of the variant_effective_seo view,
// which resolves the override chain server-side and names the winning layer.
func (s *PostgresStore) GetEffectiveRequirement(ctx context.Context, variantID string) (EffectiveRequirement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT variant_id, project_id, content_type_id, channel_id, language,
			required, source, primary_keyword, updated_at
		FROM variant_effective_seo
		WHERE variant_id=$1
	`, variantID)
	return scanEffective(row)
}

func (s *PostgresStore) ListEffectiveRequirements(ctx context.Context, projectID string) ([]EffectiveRequirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id, project_id, content_type_id, channel_id, language,
			required, source, primary_keyword, updated_at
		FROM variant_effective_seo
		WHERE project_id=$1
		ORDER BY content_type_id ASC, channel_id ASC NULLS FIRST, language ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list effective requirements: %w", err)
	}
	defer rows.Close()

	items := make([]EffectiveRequirement, 0)
	for rows.Next() {
		item, err := scanEffective(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate effective requirements: %w", err)
	}
	return items, nil
}

func scanEffective(row rowScanner) (EffectiveRequirement, error) {
	var item EffectiveRequirement
	var channelID sql.NullString
	var source string
	var primaryKeyword sql.NullString
	if err := row.Scan(
		&item.VariantID,
		&item.ProjectID,
		&item.ContentTypeID,
		&channelID,
		&item.Language,
		&item.Required,
		&source,
		&primaryKeyword,
		&item.UpdatedAt,
	); err != nil {
		return EffectiveRequirement{}, err
	}
	if channelID.Valid {
		item.ChannelID = &channelID.String
	}
	if primaryKeyword.Valid {
		item.PrimaryKeyword = &primaryKeyword.String
	}
	item.Source = requirement.Source(source)
	return item, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
