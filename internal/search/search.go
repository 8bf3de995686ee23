package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string `json:"id"`
	ProjectID     string `json:"projectId"`
	ContentTypeID string `json:"contentTypeId"`
	ChannelID     string `json:"channelId,omitempty"`
	Language      string `json:"language"`
	Title         string `json:"title"`
	Snippet       string `json:"snippet"`
}

// Query describes a search request over variant keywords and briefings.
type Query struct {
	Text            string
	FilterProjectID string
	FilterLanguage  string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push variant records into a search index.
type Indexer interface {
	IndexVariants(records []VariantRecord) error
}

// VariantRecord is the data we index for a variant: its keyword pair and
// briefing text, plus the scope identifiers used for filtering.
type VariantRecord struct {
	ID                string   `json:"id"`
	ProjectID         string   `json:"projectId"`
	ContentTypeID     string   `json:"contentTypeId"`
	ChannelID         string   `json:"channelId"`
	Language          string   `json:"language"`
	PrimaryKeyword    string   `json:"primaryKeyword"`
	SecondaryKeywords []string `json:"secondaryKeywords"`
	Briefing          string   `json:"briefing"`
}
