package domain

// ViewpointSide is one side of the debate found in a thread.
type ViewpointSide struct {
	Title    string   `json:"title"`
	Points   []string `json:"points"`
	Username *string  `json:"username,omitempty"`
}

// LiveSearchResult is one item of the best-effort live search step.
type LiveSearchResult struct {
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Snippet   string   `json:"snippet"`
	Relevance *float64 `json:"relevance_score,omitempty"`
}

// ConsensusResult is the structured output of an analysis. Pipeline steps
// only ever add fields to it.
type ConsensusResult struct {
	ID                string             `json:"id,omitempty"`
	SideA             ViewpointSide      `json:"sideA"`
	SideB             ViewpointSide      `json:"sideB"`
	Consensus         []string           `json:"consensus"`
	Success           bool               `json:"success"`
	Error             *string            `json:"error,omitempty"`
	Metadata          map[string]any     `json:"metadata"`
	PeaceMemeURL      *string            `json:"peace_meme_url"`
	MemePrompt        *string            `json:"meme_prompt"`
	LiveSearchResults []LiveSearchResult `json:"live_search_results"`
	EnhancedContext   *string            `json:"enhanced_context"`
	ConfidenceScore   *float64           `json:"confidence_score"`
	ProcessingTime    *float64           `json:"processing_time"`
}

// SetMeta sets a metadata key, allocating the map on first use.
func (r *ConsensusResult) SetMeta(key string, v any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = v
}
