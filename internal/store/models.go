package store

import (
	"time"

	"briefdesk/api/internal/requirement"
)

type ContentType struct {
	ID                 string
	Name               string
	Slug               string
	SEORequiredDefault bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Project struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Channel struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VariantKey addresses one (content type, channel-or-none, language)
// combination within a project. A nil ChannelID is the generic/no-channel
// variant and is a distinct key, not a wildcard.
type VariantKey struct {
	ProjectID     string
	ContentTypeID string
	ChannelID     *string
	Language      string
}

type Variant struct {
	ID                string
	ProjectID         string
	ContentTypeID     string
	ChannelID         *string
	Language          string
	SEORequired       *bool
	PrimaryKeyword    *string
	SecondaryKeywords []string
	Briefing          string
	UpdatedAt         time.Time
}

// OverrideLayers is the raw four-layer state for one variant, ready to be
// fed through the resolver.
type OverrideLayers struct {
	VariantID string
	Key       VariantKey
	Layers    requirement.Layers
}

// EffectiveRequirement is one row of the variant_effective_seo view: the
// server-side resolution of the override chain plus its provenance.
type EffectiveRequirement struct {
	VariantID      string
	ProjectID      string
	ContentTypeID  string
	ChannelID      *string
	Language       string
	Required       bool
	Source         requirement.Source
	PrimaryKeyword *string
	UpdatedAt      time.Time
}

// UpsertOutcome distinguishes what a set-override call actually did, since
// unique-constraint races and error handling differ between the cases.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
	OutcomeCleared UpsertOutcome = "cleared"
)
