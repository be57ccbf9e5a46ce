// Package services – AnalysisPipeline
//
// This file implements AnalysisPipeline, which turns a ThreadSnapshot into a
// ConsensusResult through a fixed sequence of steps:
//
//  1. topic extraction from the main post
//  2. live web search for current context (best effort)
//  3. prompt construction
//  4. completion call
//  5. strict parsing of the model's JSON answer
//  6. image generation (best effort)
//  7. assembly of the final result
//
// Steps 4 and 5 are mandatory: their failures surface as *AnalysisError.
// Steps 2 and 6 log and degrade to "no results" / "no image".
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/x-consensus-backend/internal/domain"
	"github.com/tbourn/x-consensus-backend/internal/search"
	"github.com/tbourn/x-consensus-backend/internal/xai"
)

const (
	topicRunes        = 100
	promptPostLimit   = 50
	displayConfidence = 0.85
	defaultConfidence = 0.8
	analysisMethod    = "enhanced-multi-step"
	stepsCompleted    = 6
	searchQueryPrefix = "current news "
)

// AIClient is the subset of the xAI client used by the pipeline.
type AIClient interface {
	Complete(ctx context.Context, req xai.ChatRequest) (*xai.ChatResponse, error)
	GenerateImage(ctx context.Context, model, prompt string) (string, error)
}

// searchStopwords extends the English list with the words every search
// query starts with, so they do not lift unrelated snippets.
var searchStopwords = append(append([]string(nil), search.EnglishStopwords...), strings.Fields(searchQueryPrefix)...)

// PipelineConfig holds model names, per-call timeouts and feature switches.
type PipelineConfig struct {
	Model            string
	SearchModel      string
	ImageModel       string
	Timeout          time.Duration // completion call
	SearchTimeout    time.Duration // live search call
	LiveSearch       bool
	Images           bool
	MaxSearchResults int
}

// AnalysisPipeline runs the consensus analysis of one thread.
type AnalysisPipeline struct {
	Config PipelineConfig
	AI     AIClient
	Scorer *search.Scorer

	// Now is the clock used for elapsed time. Nil means time.Now.
	Now func() time.Time
}

// NewAnalysisPipeline returns a pipeline with defaults applied to zero
// config values.
func NewAnalysisPipeline(cfg PipelineConfig, ai AIClient) *AnalysisPipeline {
	if cfg.Model == "" {
		cfg.Model = "grok-3-mini"
	}
	if cfg.SearchModel == "" {
		cfg.SearchModel = cfg.Model
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "grok-2-image"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = 3
	}
	return &AnalysisPipeline{
		Config: cfg,
		AI:     ai,
		Scorer: search.NewScorer(search.WithStopwords(searchStopwords)),
	}
}

func (p *AnalysisPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Analyze runs all steps on snap. The only error it returns is an
// *AnalysisError.
func (p *AnalysisPipeline) Analyze(ctx context.Context, snap *domain.ThreadSnapshot) (*domain.ConsensusResult, error) {
	tr := otel.Tracer("services/AnalysisPipeline")
	ctx, span := tr.Start(ctx, "Analyze",
		trace.WithAttributes(
			attribute.String("thread.id", snap.ThreadID),
			attribute.Int("thread.posts", len(snap.Posts)),
		),
	)
	defer span.End()

	log := zerolog.Ctx(ctx).With().Str("thread_id", snap.ThreadID).Logger()
	start := p.now()

	fail := func(reason string) (*domain.ConsensusResult, error) {
		err := &AnalysisError{Reason: reason}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		log.Error().Str("reason", reason).Dur("elapsed", p.now().Sub(start)).Msg("analysis failed")
		return nil, err
	}

	// 1. topic
	query := searchQueryPrefix + Topic(snap.MainPost.Text)

	// 2. live search
	var results []domain.LiveSearchResult
	if p.Config.LiveSearch {
		results = p.LiveSearch(ctx, query)
	}
	liveContext := LiveContext(results)

	// 3. prompt
	prompt := BuildAnalysisPrompt(snap, liveContext)
	log.Debug().Int("prompt_chars", len(prompt)).Int("live_results", len(results)).Msg("analysis prompt built")

	// 4. completion
	content, err := p.complete(ctx, prompt)
	if err != nil {
		return fail(completionReason(err))
	}

	// 5. parse
	parsed, err := ParseConsensus(content)
	if err != nil {
		return fail(err.Error())
	}
	res := parsed.Result

	// 6. image
	userA, userB := imageHandles(res, snap)
	memePrompt := BuildImagePrompt(res.Consensus, userA, userB)
	var imageURL *string
	if p.Config.Images {
		imageURL = p.generateImage(ctx, memePrompt)
	}

	// 7. assembly
	elapsed := p.now().Sub(start).Seconds()
	if results == nil {
		results = []domain.LiveSearchResult{}
	}
	res.LiveSearchResults = results
	if liveContext != "" {
		res.EnhancedContext = &liveContext
	}
	res.PeaceMemeURL = imageURL
	res.MemePrompt = &memePrompt
	conf := displayConfidence
	res.ConfidenceScore = &conf
	rounded := math.Round(elapsed*100) / 100
	res.ProcessingTime = &rounded

	res.SetMeta("analysis_method", analysisMethod)
	res.SetMeta("model", p.Config.Model)
	res.SetMeta("model_confidence", parsed.Confidence)
	res.SetMeta("meme_suggestion", parsed.MemeSuggestion)
	res.SetMeta("live_search_enabled", len(results) > 0)
	res.SetMeta("meme_generated", imageURL != nil)
	res.SetMeta("steps_completed", stepsCompleted)
	res.SetMeta("processing_time_seconds", elapsed)

	span.SetAttributes(
		attribute.Int("analysis.consensus_points", len(res.Consensus)),
		attribute.Bool("analysis.meme_generated", imageURL != nil),
	)
	log.Info().
		Float64("seconds", rounded).
		Int("live_results", len(results)).
		Bool("meme_generated", imageURL != nil).
		Int("consensus_points", len(res.Consensus)).
		Msg("analysis completed")
	return res, nil
}

// Topic returns the first 100 runes of the NFC-normalized text, trimmed.
func Topic(text string) string {
	t := norm.NFC.String(strings.TrimSpace(text))
	if utf8.RuneCountInString(t) > topicRunes {
		t = string([]rune(t)[:topicRunes])
	}
	return strings.TrimSpace(t)
}

// LiveContext renders results as "- title: snippet" lines. It is empty
// when there are no results.
func LiveContext(results []domain.LiveSearchResult) string {
	if len(results) == 0 {
		return ""
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- %s: %s", r.Title, r.Snippet))
	}
	return strings.Join(lines, "\n")
}

// ----------------------------------------------------------------------------
// Live search

const searchPromptTemplate = `
You have access to real-time web search. Please search for current information about: %s

Provide a JSON response with search results in this format:
{
    "results": [
        {
            "title": "Article/page title",
            "url": "https://example.com",
            "snippet": "Brief description of the content",
            "relevance_score": 0.9
        }
    ]
}

Limit to %d most relevant results. Focus on recent, authoritative sources.
`

// LiveSearch asks the search model for current results about query. It
// never fails: any error is logged and yields an empty slice. Results lacking
// a relevance score get a lexical one, and the list is ordered by relevance.
func (p *AnalysisPipeline) LiveSearch(ctx context.Context, query string) []domain.LiveSearchResult {
	tr := otel.Tracer("services/AnalysisPipeline")
	ctx, span := tr.Start(ctx, "LiveSearch")
	defer span.End()
	log := zerolog.Ctx(ctx)

	sctx, cancel := context.WithTimeout(ctx, p.Config.SearchTimeout)
	defer cancel()

	resp, err := p.AI.Complete(sctx, xai.ChatRequest{
		Model:       p.Config.SearchModel,
		Messages:    []xai.Message{{Role: "user", Content: fmt.Sprintf(searchPromptTemplate, query, p.Config.MaxSearchResults)}},
		Temperature: xai.Float(0.1),
		MaxTokens:   2000,
		Tools:       []xai.Tool{xai.WebSearchTool()},
	})
	if err != nil {
		xaiRequests.WithLabelValues("search", outcomeError).Inc()
		span.RecordError(err)
		log.Warn().Err(err).Msg("live search failed")
		return []domain.LiveSearchResult{}
	}

	if len(resp.Choices) == 0 {
		xaiRequests.WithLabelValues("search", outcomeError).Inc()
		log.Warn().Msg("live search returned no choices")
		return []domain.LiveSearchResult{}
	}
	results, err := p.parseSearchResults(query, resp.Choices[0].Message.Content)
	if err != nil {
		xaiRequests.WithLabelValues("search", outcomeError).Inc()
		log.Warn().Err(err).Msg("live search results unparseable")
		return []domain.LiveSearchResult{}
	}
	xaiRequests.WithLabelValues("search", outcomeOK).Inc()
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return results
}

type wireSearchResult struct {
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Snippet   string   `json:"snippet"`
	Relevance *float64 `json:"relevance_score"`
}

func (p *AnalysisPipeline) parseSearchResults(query, content string) ([]domain.LiveSearchResult, error) {
	obj, ok := outermostObject(content)
	if !ok {
		return nil, errors.New("no JSON object in search response")
	}
	var payload struct {
		Results []wireSearchResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, err
	}

	kept := make([]domain.LiveSearchResult, 0, p.Config.MaxSearchResults)
	docs := make([]search.Doc, 0, p.Config.MaxSearchResults)
	for _, w := range payload.Results {
		if len(kept) == p.Config.MaxSearchResults {
			break
		}
		r := domain.LiveSearchResult{
			Title:   strings.TrimSpace(w.Title),
			URL:     strings.TrimSpace(w.URL),
			Snippet: strings.TrimSpace(w.Snippet),
		}
		if r.Title == "" && r.URL == "" && r.Snippet == "" {
			continue
		}
		d := search.Doc{Text: r.Title + " " + r.Snippet}
		if w.Relevance != nil {
			v := math.Min(1, math.Max(0, *w.Relevance))
			d.Score = &v
		}
		kept = append(kept, r)
		docs = append(docs, d)
	}

	out := make([]domain.LiveSearchResult, 0, len(kept))
	for _, rk := range p.Scorer.Rank(query, docs) {
		r := kept[rk.Pos]
		score := rk.Score
		r.Relevance = &score
		out = append(out, r)
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Prompt

// BuildAnalysisPrompt renders up to 50 posts plus the analysis instructions
// and the expected JSON shape. A non-empty liveContext is added as its own
// block after the posts.
func BuildAnalysisPrompt(snap *domain.ThreadSnapshot, liveContext string) string {
	var posts strings.Builder
	for i, post := range snap.Posts {
		if i == promptPostLimit {
			break
		}
		if i > 0 {
			posts.WriteByte('\n')
		}
		fmt.Fprintf(&posts, "%d. @%s: %s", i+1, post.AuthorUsername, post.Text)
	}

	contextBlock := ""
	if liveContext != "" {
		contextBlock = "\n\nLIVE CONTEXT (Current Information):\n" + liveContext +
			"\n\nUse this current context to inform your analysis and ensure the consensus points are relevant to the current situation.\n"
	}

	var b strings.Builder
	b.WriteString("\nYou are analyzing a heated X/Twitter debate to find surprising common ground between opposing sides.\n\n")
	b.WriteString("THREAD DATA:\n")
	fmt.Fprintf(&b, "Main Tweet: %s\n", snap.MainPost.Text)
	fmt.Fprintf(&b, "Total Tweets: %d\n\n", len(snap.Posts))
	b.WriteString("TWEETS:\n")
	b.WriteString(posts.String())
	b.WriteString(contextBlock)
	b.WriteString(analysisInstructions)
	return b.String()
}

const analysisInstructions = `

ANALYSIS TASK:
1. Identify the two primary opposing viewpoints in this debate
2. Cluster the tweets into Side A and Side B based on their stance
3. Extract the core arguments from each side (three per side)
4. Find GENUINE common ground - shared values, concerns, or facts that both sides agree on
5. Provide a confidence score for your analysis

RESPONSE FORMAT (JSON only):
{
    "sideA": {
        "title": "Clear, neutral title for Side A's position",
        "points": ["Key argument 1", "Key argument 2", "Key argument 3"],
        "username": "most representative username for this side, without @"
    },
    "sideB": {
        "title": "Clear, neutral title for Side B's position",
        "points": ["Key argument 1", "Key argument 2", "Key argument 3"],
        "username": "most representative username for this side, without @"
    },
    "consensus": [
        "Specific shared value/concern both sides agree on",
        "Another genuine point of agreement",
        "Third area of common ground"
    ],
    "confidence_score": 0.85,
    "meme_prompt_suggestion": "Brief suggestion for a peace meme that celebrates this common ground"
}

IMPORTANT GUIDELINES:
- Focus on GENUINE consensus, not superficial platitudes
- Look for shared underlying values even when solutions differ
- Be specific and concrete in identifying common ground
- Use live context to ensure relevance
- Return ONLY the JSON response, no additional text

Analyze this debate now:
`

// ----------------------------------------------------------------------------
// Completion

func (p *AnalysisPipeline) complete(ctx context.Context, prompt string) (string, error) {
	tr := otel.Tracer("services/AnalysisPipeline")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(attribute.String("xai.model", p.Config.Model)),
	)
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, p.Config.Timeout)
	defer cancel()

	resp, err := p.AI.Complete(cctx, xai.ChatRequest{
		Model:       p.Config.Model,
		Messages:    []xai.Message{{Role: "user", Content: prompt}},
		Temperature: xai.Float(0.3),
		MaxTokens:   1500,
	})
	if err != nil {
		xaiRequests.WithLabelValues("analysis", outcomeError).Inc()
		span.RecordError(err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		xaiRequests.WithLabelValues("analysis", outcomeError).Inc()
		return "", xai.ErrNoChoices
	}
	xaiRequests.WithLabelValues("analysis", outcomeOK).Inc()
	span.SetAttributes(attribute.Int("xai.total_tokens", resp.Usage.TotalTokens))
	return resp.Choices[0].Message.Content, nil
}

// completionReason turns a completion error into the reason reported to
// callers.
func completionReason(err error) string {
	var se *xai.StatusError
	switch {
	case errors.As(err, &se) && se.StatusCode == 429:
		return "rate limited by the analysis API, try again later"
	case errors.As(err, &se) && se.StatusCode == 401:
		return "invalid credentials for the analysis API"
	case errors.As(err, &se):
		return fmt.Sprintf("analysis API error (status %d)", se.StatusCode)
	case errors.Is(err, xai.ErrNoChoices):
		return "no choices returned by the analysis API"
	case errors.Is(err, context.DeadlineExceeded):
		return "analysis API timed out"
	}
	return "analysis API call failed: " + err.Error()
}

// ----------------------------------------------------------------------------
// Parsing

// ParsedAnalysis is well-formed model output: the result skeleton plus the
// optional fields the model may add.
type ParsedAnalysis struct {
	Result         *domain.ConsensusResult
	Confidence     float64
	MemeSuggestion string
}

// ParseConsensus extracts the JSON answer from raw model output. Markdown
// fences are stripped and the text between the first '{' and the last '}'
// is decoded. sideA, sideB and consensus are required, as are each side's
// title and points. Failures are *MalformedOutputError.
func ParseConsensus(raw string) (*ParsedAnalysis, error) {
	obj, ok := outermostObject(stripFences(raw))
	if !ok {
		return nil, &MalformedOutputError{Reason: "no JSON object found"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &top); err != nil {
		return nil, &MalformedOutputError{Reason: "invalid JSON: " + err.Error()}
	}
	for _, k := range []string{"sideA", "sideB", "consensus"} {
		if _, ok := top[k]; !ok {
			return nil, &MalformedOutputError{Reason: "missing required field: " + k}
		}
	}

	sideA, err := parseSide("sideA", top["sideA"])
	if err != nil {
		return nil, err
	}
	sideB, err := parseSide("sideB", top["sideB"])
	if err != nil {
		return nil, err
	}
	var consensus []string
	if err := json.Unmarshal(top["consensus"], &consensus); err != nil || consensus == nil {
		return nil, &MalformedOutputError{Reason: "consensus must be a list of strings"}
	}

	out := &ParsedAnalysis{Confidence: defaultConfidence}
	if v, ok := top["confidence_score"]; ok {
		var c float64
		if json.Unmarshal(v, &c) == nil {
			out.Confidence = c
		}
	}
	if v, ok := top["meme_prompt_suggestion"]; ok {
		_ = json.Unmarshal(v, &out.MemeSuggestion)
	}

	out.Result = &domain.ConsensusResult{
		SideA:     sideA,
		SideB:     sideB,
		Consensus: consensus,
		Success:   true,
		Metadata:  map[string]any{},
	}
	return out, nil
}

func parseSide(name string, raw json.RawMessage) (domain.ViewpointSide, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return domain.ViewpointSide{}, &MalformedOutputError{Reason: name + " must be an object"}
	}
	for _, k := range []string{"title", "points"} {
		if _, ok := fields[k]; !ok {
			return domain.ViewpointSide{}, &MalformedOutputError{Reason: "missing required field: " + name + "." + k}
		}
	}
	var side domain.ViewpointSide
	if err := json.Unmarshal(fields["title"], &side.Title); err != nil {
		return domain.ViewpointSide{}, &MalformedOutputError{Reason: name + ".title must be a string"}
	}
	if err := json.Unmarshal(fields["points"], &side.Points); err != nil || side.Points == nil {
		return domain.ViewpointSide{}, &MalformedOutputError{Reason: name + ".points must be a list of strings"}
	}
	if v, ok := fields["username"]; ok {
		var u string
		if json.Unmarshal(v, &u) == nil {
			if u = strings.TrimPrefix(strings.TrimSpace(u), "@"); u != "" {
				side.Username = &u
			}
		}
	}
	return side, nil
}

// stripFences removes a leading ``` or ```json line and a trailing ```.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// outermostObject returns the text from the first '{' to the last '}'.
func outermostObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// ----------------------------------------------------------------------------
// Image

// BuildImagePrompt describes a peace image for the first two consensus
// points, naming both handles when both are known. The result always fits
// the image endpoint's prompt limit.
func BuildImagePrompt(consensus []string, userA, userB *string) string {
	personas := ""
	if userA != nil && userB != nil && *userA != "" && *userB != "" {
		personas = fmt.Sprintf("Show @%s and @%s as cartoon characters or caricatures ", *userA, *userB)
	}
	shared := consensus
	if len(shared) > 2 {
		shared = shared[:2]
	}
	prompt := fmt.Sprintf("Create a peaceful meme celebrating common ground. %sfinding agreement on: %s. "+
		"Style: Modern, clean, positive. Elements: Handshake, bridge, or unity symbols. "+
		`Text: "Finding Common Ground". Avoid controversy.`,
		personas, strings.Join(shared, ", "))
	if len(prompt) < xai.ImagePromptLimit {
		return prompt
	}

	first := "common ground"
	if len(consensus) > 0 {
		first = clipRunes(consensus[0], 50)
	}
	prompt = fmt.Sprintf("Peace meme: %sagreeing on %s. Clean, positive style with unity symbols.", personas, first)
	if len(prompt) >= xai.ImagePromptLimit {
		prompt = fmt.Sprintf("Peace meme: agreeing on %s. Clean, positive style with unity symbols.", first)
	}
	return prompt
}

// imageHandles returns the handles to draw for each side. A side the model
// left without a username takes the next thread author not already used.
func imageHandles(res *domain.ConsensusResult, snap *domain.ThreadSnapshot) (*string, *string) {
	a, b := res.SideA.Username, res.SideB.Username
	if a != nil && *a != "" && b != nil && *b != "" {
		return a, b
	}
	taken := func(h string) bool {
		return (a != nil && *a == h) || (b != nil && *b == h)
	}
	for _, h := range snap.Usernames() {
		if taken(h) {
			continue
		}
		h := h
		switch {
		case a == nil || *a == "":
			a = &h
		case b == nil || *b == "":
			b = &h
		}
	}
	return a, b
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// generateImage returns the image URL or nil; failures are logged only.
func (p *AnalysisPipeline) generateImage(ctx context.Context, prompt string) *string {
	tr := otel.Tracer("services/AnalysisPipeline")
	ctx, span := tr.Start(ctx, "GenerateImage",
		trace.WithAttributes(attribute.Int("image.prompt_chars", len(prompt))),
	)
	defer span.End()

	ictx, cancel := context.WithTimeout(ctx, p.Config.Timeout)
	defer cancel()

	u, err := p.AI.GenerateImage(ictx, p.Config.ImageModel, prompt)
	if err != nil {
		xaiRequests.WithLabelValues("image", outcomeError).Inc()
		span.RecordError(err)
		zerolog.Ctx(ctx).Warn().Err(err).Msg("image generation failed")
		return nil
	}
	xaiRequests.WithLabelValues("image", outcomeOK).Inc()
	return &u
}
