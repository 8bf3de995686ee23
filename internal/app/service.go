package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"briefdesk/api/internal/cache"
	"briefdesk/api/internal/config"
	"briefdesk/api/internal/debounce"
	"briefdesk/api/internal/export"
	"briefdesk/api/internal/optimistic"
	"briefdesk/api/internal/requirement"
	"briefdesk/api/internal/search"
	"briefdesk/api/internal/store"
	"briefdesk/api/internal/util"
)

// MatrixRow is one variant's resolved requirement in a project matrix.
type MatrixRow struct {
	VariantID      string             `json:"variantId"`
	ContentTypeID  string             `json:"contentTypeId"`
	ChannelID      *string            `json:"channelId"`
	Language       string             `json:"language"`
	Required       bool               `json:"required"`
	Source         requirement.Source `json:"source"`
	PrimaryKeyword *string            `json:"primaryKeyword,omitempty"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// Matrix is a project's full requirements view.
type Matrix struct {
	ProjectID string      `json:"projectId"`
	Rows      []MatrixRow `json:"rows"`
}

// OverrideResult reports what a set-override call did and where the
// effective value now comes from.
type OverrideResult struct {
	VariantID string                 `json:"variantId,omitempty"`
	Outcome   store.UpsertOutcome    `json:"outcome"`
	Effective *requirement.Effective `json:"effective,omitempty"`
	Value     *bool                  `json:"value"`
}

type SetVariantOverrideInput struct {
	ProjectID     string  `json:"projectId"`
	ContentTypeID string  `json:"contentTypeId"`
	ChannelID     *string `json:"channelId"`
	Language      string  `json:"language"`
	Value         *bool   `json:"value"`
}

type KeywordsInput struct {
	ProjectID         string   `json:"projectId"`
	ContentTypeID     string   `json:"contentTypeId"`
	ChannelID         *string  `json:"channelId"`
	Language          string   `json:"language"`
	PrimaryKeyword    *string  `json:"primaryKeyword"`
	SecondaryKeywords []string `json:"secondaryKeywords"`
}

type ApplyToVariantsInput struct {
	ContentTypeID string   `json:"contentTypeId"`
	ChannelID     *string  `json:"channelId"`
	Value         *bool    `json:"value"`
	VariantIDs    []string `json:"variantIds"`
}

type dataStore interface {
	ListContentTypes(context.Context) ([]store.ContentType, error)
	ListProjects(context.Context) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	ListChannels(context.Context) ([]store.Channel, error)
	ListVariants(context.Context, string, string) ([]store.Variant, error)
	GetVariant(context.Context, string) (store.Variant, error)
	GetOverrideLayers(context.Context, string) (store.OverrideLayers, error)
	SetProjectOverride(context.Context, string, string, *bool) (store.UpsertOutcome, error)
	SetChannelOverride(context.Context, string, string, *string, *bool) (store.UpsertOutcome, error)
	SetVariantOverride(context.Context, string, store.VariantKey, *bool) (string, store.UpsertOutcome, error)
	SetVariantOverrideByID(context.Context, string, *bool) (bool, error)
	BulkSetVariantOverrides(context.Context, string, []string, *bool) (int64, error)
	UpsertVariantKeywords(context.Context, string, store.VariantKey, *string, []string) (string, store.UpsertOutcome, error)
	UpdateVariantKeywords(context.Context, string, *string, []string) (bool, error)
	UpdateVariantBriefing(context.Context, string, string) (bool, error)
	GetEffectiveRequirement(context.Context, string) (store.EffectiveRequirement, error)
	ListEffectiveRequirements(context.Context, string) ([]store.EffectiveRequirement, error)
	Ping(context.Context) error
}

// requirementCache is the read-side cache; nil disables caching entirely.
type requirementCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
	InvalidateProject(ctx context.Context, projectID string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	ReindexProject(ctx context.Context, projectID string)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	cache  requirementCache
	search searchService

	reindexDelay time.Duration
	mu           sync.Mutex
	reindexers   map[string]*debounce.Debouncer[string]
}

func New(cfg config.Config, dataStore dataStore, requirementCache requirementCache, searchSvc searchService) *Service {
	return &Service{
		cfg:          cfg,
		store:        dataStore,
		cache:        requirementCache,
		search:       searchSvc,
		reindexDelay: 2 * time.Second,
		reindexers:   make(map[string]*debounce.Debouncer[string]),
	}
}

func (s *Service) APIToken() string {
	return s.cfg.APIToken
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close stops the per-project reindex debouncers.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.reindexers {
		d.Stop()
	}
}

func (s *Service) ListContentTypes(ctx context.Context) ([]store.ContentType, error) {
	return s.store.ListContentTypes(ctx)
}

func (s *Service) ListProjects(ctx context.Context) ([]store.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) ListChannels(ctx context.Context) ([]store.Channel, error) {
	return s.store.ListChannels(ctx)
}

func (s *Service) ListVariants(ctx context.Context, projectID, contentTypeID string) ([]store.Variant, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId is required", nil)
	}
	return s.store.ListVariants(ctx, projectID, contentTypeID)
}

// RequirementsMatrix returns the resolved view of every variant in a
// project, cache-aside: mutations invalidate, readers re-fetch.
func (s *Service) RequirementsMatrix(ctx context.Context, projectID string) (Matrix, error) {
	if strings.TrimSpace(projectID) == "" {
		return Matrix{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId is required", nil)
	}

	if s.cache != nil {
		if payload, ok, err := s.cache.Get(ctx, cache.ProjectKey(projectID)); err != nil {
			log.Printf("requirements: cache read for %s: %v", projectID, err)
		} else if ok {
			var matrix Matrix
			if err := json.Unmarshal(payload, &matrix); err == nil {
				return matrix, nil
			}
		}
	}

	rows, err := s.store.ListEffectiveRequirements(ctx, projectID)
	if err != nil {
		return Matrix{}, fmt.Errorf("load requirements matrix: %w", err)
	}
	matrix := Matrix{ProjectID: projectID, Rows: make([]MatrixRow, 0, len(rows))}
	for _, row := range rows {
		matrix.Rows = append(matrix.Rows, matrixRowFrom(row))
	}

	if s.cache != nil {
		if payload, err := json.Marshal(matrix); err == nil {
			if err := s.cache.Set(ctx, cache.ProjectKey(projectID), payload); err != nil {
				log.Printf("requirements: cache write for %s: %v", projectID, err)
			}
		}
	}
	return matrix, nil
}

func matrixRowFrom(row store.EffectiveRequirement) MatrixRow {
	return MatrixRow{
		VariantID:      row.VariantID,
		ContentTypeID:  row.ContentTypeID,
		ChannelID:      row.ChannelID,
		Language:       row.Language,
		Required:       row.Required,
		Source:         row.Source,
		PrimaryKeyword: row.PrimaryKeyword,
		UpdatedAt:      row.UpdatedAt,
	}
}

// VariantRequirement resolves one variant, serving from the cache when possible.
func (s *Service) VariantRequirement(ctx context.Context, variantID string) (MatrixRow, error) {
	layers, err := s.store.GetOverrideLayers(ctx, variantID)
	if err != nil {
		return MatrixRow{}, err
	}
	key := ""
	if s.cache != nil {
		key = cache.VariantKey(layers.Key.ProjectID, variantID)
		if payload, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var row MatrixRow
			if err := json.Unmarshal(payload, &row); err == nil {
				return row, nil
			}
		}
	}

	effective, err := s.store.GetEffectiveRequirement(ctx, variantID)
	if err != nil {
		return MatrixRow{}, err
	}
	row := matrixRowFrom(effective)
	if s.cache != nil {
		if payload, err := json.Marshal(row); err == nil {
			_ = s.cache.Set(ctx, key, payload)
		}
	}
	return row, nil
}

// SetProjectOverride writes or clears the project-layer override. The write
// never cascades; every cached descendant view is invalidated instead and
// recomputed on the next read.
func (s *Service) SetProjectOverride(ctx context.Context, projectID, contentTypeID string, value *bool) (OverrideResult, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(contentTypeID) == "" {
		return OverrideResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId and contentTypeId are required", nil)
	}
	outcome, err := s.store.SetProjectOverride(ctx, projectID, contentTypeID, value)
	if err != nil {
		return OverrideResult{}, fmt.Errorf("set project override: %w", err)
	}
	s.invalidateProject(ctx, projectID)
	return OverrideResult{Outcome: outcome, Value: value}, nil
}

// SetChannelOverride writes or clears the channel-layer override. A nil
// channelID addresses the generic/no-channel key, which is distinct from
// every real channel.
func (s *Service) SetChannelOverride(ctx context.Context, projectID, contentTypeID string, channelID *string, value *bool) (OverrideResult, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(contentTypeID) == "" {
		return OverrideResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId and contentTypeId are required", nil)
	}
	outcome, err := s.store.SetChannelOverride(ctx, projectID, contentTypeID, channelID, value)
	if err != nil {
		return OverrideResult{}, fmt.Errorf("set channel override: %w", err)
	}
	s.invalidateProject(ctx, projectID)
	return OverrideResult{Outcome: outcome, Value: value}, nil
}

// UpsertVariantOverride writes the variant-layer override by key, creating
// the variant row implicitly on first write.
func (s *Service) UpsertVariantOverride(ctx context.Context, input SetVariantOverrideInput) (OverrideResult, error) {
	if strings.TrimSpace(input.ProjectID) == "" || strings.TrimSpace(input.ContentTypeID) == "" || strings.TrimSpace(input.Language) == "" {
		return OverrideResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId, contentTypeId and language are required", nil)
	}
	key := store.VariantKey{
		ProjectID:     input.ProjectID,
		ContentTypeID: input.ContentTypeID,
		ChannelID:     input.ChannelID,
		Language:      input.Language,
	}
	variantID, outcome, err := s.store.SetVariantOverride(ctx, util.NewID("var"), key, input.Value)
	if err != nil {
		return OverrideResult{}, fmt.Errorf("upsert variant override: %w", err)
	}
	s.invalidateProject(ctx, input.ProjectID)
	effective, err := s.store.GetEffectiveRequirement(ctx, variantID)
	if err != nil {
		return OverrideResult{}, fmt.Errorf("resolve after override: %w", err)
	}
	return OverrideResult{
		VariantID: variantID,
		Outcome:   outcome,
		Effective: &requirement.Effective{Required: effective.Required, Source: effective.Source},
		Value:     input.Value,
	}, nil
}

// SetVariantOverrideByID writes or clears the override of an existing
// variant. The variant's own cached view is patched speculatively since the
// new effective value is computable from the loaded layers; the store write
// is the commit, and the prior cache entry is restored when it fails.
func (s *Service) SetVariantOverrideByID(ctx context.Context, variantID string, value *bool) (OverrideResult, error) {
	layers, err := s.store.GetOverrideLayers(ctx, variantID)
	if err != nil {
		return OverrideResult{}, err
	}

	nextLayers := layers.Layers
	nextLayers.Variant = value
	effective := nextLayers.Resolve()

	var cacheKey string
	var snapshot []byte
	var hadSnapshot bool
	if s.cache != nil {
		cacheKey = cache.VariantKey(layers.Key.ProjectID, variantID)
		snapshot, hadSnapshot, _ = s.cache.Get(ctx, cacheKey)
	}

	var found bool
	err = optimistic.Run(
		func() error {
			if s.cache == nil {
				return nil
			}
			row := MatrixRow{
				VariantID:     variantID,
				ContentTypeID: layers.Key.ContentTypeID,
				ChannelID:     layers.Key.ChannelID,
				Language:      layers.Key.Language,
				Required:      effective.Required,
				Source:        effective.Source,
				UpdatedAt:     time.Now().UTC(),
			}
			payload, err := json.Marshal(row)
			if err != nil {
				return err
			}
			return s.cache.Set(ctx, cacheKey, payload)
		},
		func() error {
			var commitErr error
			found, commitErr = s.store.SetVariantOverrideByID(ctx, variantID, value)
			return commitErr
		},
		func() {
			if s.cache == nil {
				return
			}
			if hadSnapshot {
				_ = s.cache.Set(ctx, cacheKey, snapshot)
			} else {
				_ = s.cache.Delete(ctx, cacheKey)
			}
		},
	)
	if err != nil {
		return OverrideResult{}, fmt.Errorf("set variant override: %w", err)
	}
	if !found {
		return OverrideResult{}, domainError(http.StatusNotFound, "NOT_FOUND", "Variant not found", nil)
	}

	// The project matrix still shows the old value; drop it so the next
	// read recomputes.
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.ProjectKey(layers.Key.ProjectID)); err != nil {
			log.Printf("requirements: invalidate matrix for %s: %v", layers.Key.ProjectID, err)
		}
	}

	outcome := store.OutcomeUpdated
	if value == nil {
		outcome = store.OutcomeCleared
	}
	return OverrideResult{
		VariantID: variantID,
		Outcome:   outcome,
		Effective: &effective,
		Value:     value,
	}, nil
}

// ToggleVariantOverride advances the variant's tri-state override one step
// in the fixed cycle inherit -> required -> not required -> inherit.
func (s *Service) ToggleVariantOverride(ctx context.Context, variantID string) (OverrideResult, error) {
	layers, err := s.store.GetOverrideLayers(ctx, variantID)
	if err != nil {
		return OverrideResult{}, err
	}
	next := requirement.Next(layers.Layers.Variant)
	return s.SetVariantOverrideByID(ctx, variantID, next)
}

// ApplyToAllVariants bulk-overwrites the override of every listed variant
// with one value. The caller supplies the ids it has loaded; nothing is
// discovered here, and existing per-variant values are overwritten without
// merging. The UI confirms this with the user before calling.
func (s *Service) ApplyToAllVariants(ctx context.Context, projectID string, input ApplyToVariantsInput) (int64, error) {
	if strings.TrimSpace(projectID) == "" {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId is required", nil)
	}
	if len(input.VariantIDs) == 0 {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "variantIds must not be empty", nil)
	}
	updated, err := s.store.BulkSetVariantOverrides(ctx, projectID, input.VariantIDs, input.Value)
	if err != nil {
		return 0, fmt.Errorf("apply to all variants: %w", err)
	}
	s.invalidateProject(ctx, projectID)
	return updated, nil
}

// UpsertKeywords writes a variant's keyword pair, creating the variant row
// implicitly on first write. Callers debounce their typing; the search
// reindex is additionally coalesced per project here.
func (s *Service) UpsertKeywords(ctx context.Context, input KeywordsInput) (OverrideResult, error) {
	if strings.TrimSpace(input.ProjectID) == "" || strings.TrimSpace(input.ContentTypeID) == "" || strings.TrimSpace(input.Language) == "" {
		return OverrideResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId, contentTypeId and language are required", nil)
	}
	key := store.VariantKey{
		ProjectID:     input.ProjectID,
		ContentTypeID: input.ContentTypeID,
		ChannelID:     input.ChannelID,
		Language:      input.Language,
	}
	variantID, outcome, err := s.store.UpsertVariantKeywords(ctx, util.NewID("var"), key, input.PrimaryKeyword, input.SecondaryKeywords)
	if err != nil {
		return OverrideResult{}, fmt.Errorf("upsert keywords: %w", err)
	}
	s.invalidateProject(ctx, input.ProjectID)
	s.scheduleReindex(input.ProjectID)
	return OverrideResult{VariantID: variantID, Outcome: outcome}, nil
}

// UpdateKeywords rewrites an existing variant's keyword pair.
func (s *Service) UpdateKeywords(ctx context.Context, variantID string, primary *string, secondary []string) error {
	found, err := s.store.UpdateVariantKeywords(ctx, variantID, primary, secondary)
	if err != nil {
		return fmt.Errorf("update keywords: %w", err)
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Variant not found", nil)
	}
	variant, err := s.store.GetVariant(ctx, variantID)
	if err == nil {
		s.invalidateProject(ctx, variant.ProjectID)
		s.scheduleReindex(variant.ProjectID)
	}
	return nil
}

// UpdateBriefing replaces a variant's briefing text.
func (s *Service) UpdateBriefing(ctx context.Context, variantID, briefing string) error {
	found, err := s.store.UpdateVariantBriefing(ctx, variantID, briefing)
	if err != nil {
		return fmt.Errorf("update briefing: %w", err)
	}
	if !found {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Variant not found", nil)
	}
	variant, err := s.store.GetVariant(ctx, variantID)
	if err == nil {
		s.scheduleReindex(variant.ProjectID)
	}
	return nil
}

// Search queries variant keywords and briefings.
func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ExportRequirements renders a project's effective matrix as an XLSX workbook.
func (s *Service) ExportRequirements(ctx context.Context, projectID string) ([]byte, string, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, "", err
	}
	contentTypes, err := s.store.ListContentTypes(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("export requirements: %w", err)
	}
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("export requirements: %w", err)
	}
	rows, err := s.store.ListEffectiveRequirements(ctx, projectID)
	if err != nil {
		return nil, "", fmt.Errorf("export requirements: %w", err)
	}
	payload, err := export.RequirementsMatrix(project, contentTypes, channels, rows)
	if err != nil {
		return nil, "", fmt.Errorf("export requirements: %w", err)
	}
	filename := fmt.Sprintf("seo-requirements-%s.xlsx", project.Slug)
	return payload, filename, nil
}

func (s *Service) invalidateProject(ctx context.Context, projectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProject(ctx, projectID); err != nil {
		log.Printf("requirements: invalidate project %s: %v", projectID, err)
	}
}

// scheduleReindex coalesces search reindexing per project so a burst of
// keyword writes produces one reindex.
func (s *Service) scheduleReindex(projectID string) {
	if s.search == nil {
		return
	}
	s.mu.Lock()
	d, ok := s.reindexers[projectID]
	if !ok {
		d = debounce.New(s.reindexDelay, func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.search.ReindexProject(ctx, id)
		})
		s.reindexers[projectID] = d
	}
	s.mu.Unlock()
	d.Publish(projectID)
}
