// Package openrouter is the opaque AI collaborator: it turns cleaned
// text into enrichment output (abstract, bullets, quotes, tags) and
// produces cross-item comparisons. Responses are strictly validated
// before they are accepted; a shape mismatch is a hard failure, never a
// silent coercion.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	OpenRouterAPIURL = "https://openrouter.ai/api/v1/chat/completions"

	// MaxBullets bounds the bullet list accepted from the model
	MaxBullets = 20
	// MaxQuotes bounds the quote list accepted from the model
	MaxQuotes = 12
	// MaxTags bounds the tag list accepted from the model
	MaxTags = 20

	// maxInputChars truncates very long cleaned text before prompting
	maxInputChars = 120_000
)

// EnrichMode selects between a full enrichment and the cheaper degraded
// pass used for short source text.
type EnrichMode string

const (
	ModeFull     EnrichMode = "full"
	ModeTagsOnly EnrichMode = "tags_only"
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	model      *string // Optional: if nil, uses OpenRouter account default
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: OpenRouterAPIURL,
		httpClient: &http.Client{
			Timeout: 300 * time.Second, // LLM calls on free models are slow
		},
		model: nil,
	}
}

// SetModel sets a specific model to use (optional)
func (c *Client) SetModel(model string) {
	c.model = &model
}

// SetBaseURL overrides the API endpoint (used by tests)
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Quote is one exact quote from the source with its significance note
type Quote struct {
	Quote        string `json:"quote"`
	WhyItMatters string `json:"why_it_matters"`
}

// EnrichResult is the validated enrichment output for one item
type EnrichResult struct {
	Abstract       string   `json:"abstract"`
	Bullets        []string `json:"bullets"`
	Quotes         []Quote  `json:"quotes"`
	Tags           []string `json:"tags"`
	SuggestedTitle string   `json:"suggested_title,omitempty"`
}

const enrichFullSystem = `You are a research assistant. Given the full text of a source (article, document, or paste), produce:
1. abstract: a 2-3 sentence abstract of the source.
2. bullets: 8-15 bullet points of key points, each a single string.
3. quotes: 5-12 key quotes from the text, each with a short "why_it_matters" explanation. Only use exact quotes from the text; do not fabricate.
4. tags: 8-20 reusable topic labels (lowercase, short, no spaces in a tag).
5. suggested_title: a concise title if the text has no clear title; otherwise omit.

Respond with valid JSON only: { "abstract": "...", "bullets": ["..."], "quotes": [ { "quote": "...", "why_it_matters": "..." } ], "tags": ["tag1", "tag2"], "suggested_title": "..." or omit }`

const enrichTagsOnlySystem = `You are a research assistant. The source text is too short for a full analysis. Produce:
1. abstract: a 1-2 sentence abstract of the text.
2. tags: 3-10 reusable topic labels (lowercase, short, no spaces in a tag).
3. suggested_title: a concise title if the text has no clear title; otherwise omit.

Do not produce bullets or quotes. Respond with valid JSON only: { "abstract": "...", "tags": ["tag1", "tag2"], "suggested_title": "..." or omit }`

// EnrichText runs the enrichment prompt over cleaned text and validates
// the structural shape of the response.
func (c *Client) EnrichText(ctx context.Context, text string, mode EnrichMode) (*EnrichResult, error) {
	system := enrichFullSystem
	if mode == ModeTagsOnly {
		system = enrichTagsOnlySystem
	}
	text = truncateRunes(text, maxInputChars)

	content, err := c.complete(ctx, system, "Analyze this text:\n\n"+text)
	if err != nil {
		return nil, err
	}

	var result EnrichResult
	if err := json.Unmarshal([]byte(c.cleanJSONResponse(content)), &result); err != nil {
		return nil, fmt.Errorf("failed to parse enrichment JSON: %w", err)
	}
	if err := validateEnrichment(&result, mode); err != nil {
		return nil, err
	}
	return &result, nil
}

// validateEnrichment enforces the accepted shape: a non-empty abstract,
// bounded lists, normalized tags. Tags-only mode discards bullets and
// quotes even if the model produced them.
func validateEnrichment(result *EnrichResult, mode EnrichMode) error {
	result.Abstract = strings.TrimSpace(result.Abstract)
	if result.Abstract == "" {
		return fmt.Errorf("enrichment response missing abstract")
	}

	if mode == ModeTagsOnly {
		result.Bullets = nil
		result.Quotes = nil
	} else {
		if len(result.Bullets) == 0 {
			return fmt.Errorf("enrichment response missing bullets")
		}
		if len(result.Bullets) > MaxBullets {
			result.Bullets = result.Bullets[:MaxBullets]
		}
		if len(result.Quotes) > MaxQuotes {
			result.Quotes = result.Quotes[:MaxQuotes]
		}
		kept := result.Quotes[:0]
		for _, q := range result.Quotes {
			if strings.TrimSpace(q.Quote) != "" {
				kept = append(kept, q)
			}
		}
		result.Quotes = kept
	}

	tags := make([]string, 0, len(result.Tags))
	for _, tag := range result.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		normalized = truncateRunes(normalized, 100)
		tags = append(tags, normalized)
		if len(tags) == MaxTags {
			break
		}
	}
	if len(tags) == 0 {
		return fmt.Errorf("enrichment response missing tags")
	}
	result.Tags = tags

	result.SuggestedTitle = strings.TrimSpace(result.SuggestedTitle)
	return nil
}

// truncateRunes cuts s to at most max bytes without splitting a
// multi-byte rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// CompareSource is one item's digest fed into a comparison
type CompareSource struct {
	ItemID   string
	Title    string
	Abstract string
	Bullets  []string
	Quotes   []string
}

// CitedQuote is one quote with its source citation
type CitedQuote struct {
	Quote     string `json:"quote"`
	ItemID    string `json:"item_id"`
	ItemTitle string `json:"item_title"`
}

// ThemeQuotes groups the best quotes under one shared theme
type ThemeQuotes struct {
	Theme  string       `json:"theme"`
	Quotes []CitedQuote `json:"quotes"`
}

// CompareResult is the validated output of a cross-item comparison
type CompareResult struct {
	CommonThemes      []string      `json:"common_themes"`
	Differences       []string      `json:"differences"`
	BestQuotesByTheme []ThemeQuotes `json:"best_quotes_by_theme"`
}

const compareSystem = `You are a research analyst. Given 2-5 sources (each with abstract, bullets, and quotes), produce a comparison:

1. common_themes: array of 3-8 themes that appear across multiple sources
2. differences: array of 3-8 key differences, contradictions, or contrasting points
3. best_quotes_by_theme: array of objects, each with:
   - theme: string (one of the common_themes or a related theme)
   - quotes: array of { quote: string, item_id: string, item_title: string } - pick the best 1-3 quotes per theme from the provided sources, with exact citations. Use the exact item_id and item_title from the input.

Respond with valid JSON only. Use exact quotes from the sources; do not fabricate.`

// CompareItems runs the comparison prompt over 2-5 item digests
func (c *Client) CompareItems(ctx context.Context, sources []CompareSource) (*CompareResult, error) {
	if len(sources) < 2 || len(sources) > 5 {
		return nil, fmt.Errorf("need 2-5 items to compare, got %d", len(sources))
	}

	var sb strings.Builder
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&sb, "[Item %s]\nTitle: %s\nAbstract: %s\nBullets: %s\nQuotes: %s\n\n",
			s.ItemID, title, s.Abstract,
			strings.Join(s.Bullets, "; "),
			strings.Join(s.Quotes, " | "))
	}

	content, err := c.complete(ctx, compareSystem, "Compare these sources:\n\n"+sb.String())
	if err != nil {
		return nil, err
	}

	var result CompareResult
	if err := json.Unmarshal([]byte(c.cleanJSONResponse(content)), &result); err != nil {
		return nil, fmt.Errorf("failed to parse comparison JSON: %w", err)
	}
	if len(result.CommonThemes) == 0 || len(result.Differences) == 0 {
		return nil, fmt.Errorf("comparison response missing themes or differences")
	}
	if result.BestQuotesByTheme == nil {
		result.BestQuotesByTheme = []ThemeQuotes{}
	}
	return &result, nil
}

// complete sends one system+user chat completion and returns the
// assistant message content.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := map[string]interface{}{
		"messages": []map[string]interface{}{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"response_format": map[string]interface{}{"type": "json_object"},
	}
	if c.model != nil {
		reqBody["model"] = *c.model
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}
	return apiResp.Choices[0].Message.Content, nil
}

// cleanJSONResponse removes markdown code blocks and extra text around
// the JSON object in an LLM response.
func (c *Client) cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		// No valid JSON found, return as is and let the parser fail
		return content
	}
	return strings.TrimSpace(content[startIdx : endIdx+1])
}
