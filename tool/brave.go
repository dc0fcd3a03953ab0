package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tmc/langchaingo/schema"
)

// BraveSearch searches the web with the Brave Search API.
type BraveSearch struct {
	APIKey  string
	BaseURL string
	Count   int
	Country string
	Lang    string
	Client  *http.Client

	sanitizer *bluemonday.Policy
}

type BraveOption func(*BraveSearch)

// WithBraveBaseURL sets the base URL for the Brave Search API.
func WithBraveBaseURL(baseURL string) BraveOption {
	return func(b *BraveSearch) {
		b.BaseURL = baseURL
	}
}

// WithBraveCount sets the number of results to return (1-20).
func WithBraveCount(count int) BraveOption {
	return func(b *BraveSearch) {
		b.Count = min(max(count, 1), 20)
	}
}

// WithBraveCountry sets the country code for search results (e.g., "US", "KR").
func WithBraveCountry(country string) BraveOption {
	return func(b *BraveSearch) {
		b.Country = country
	}
}

// WithBraveLang sets the language code for search results (e.g., "en", "ko").
func WithBraveLang(lang string) BraveOption {
	return func(b *BraveSearch) {
		b.Lang = lang
	}
}

// WithBraveHTTPClient sets the HTTP client.
func WithBraveHTTPClient(client *http.Client) BraveOption {
	return func(b *BraveSearch) {
		b.Client = client
	}
}

// NewBraveSearch creates a new BraveSearch tool.
// If apiKey is empty, it tries to read from BRAVE_API_KEY environment variable.
func NewBraveSearch(apiKey string, opts ...BraveOption) (*BraveSearch, error) {
	if apiKey == "" {
		apiKey = os.Getenv("BRAVE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("BRAVE_API_KEY not set")
	}

	b := &BraveSearch{
		APIKey:    apiKey,
		BaseURL:   "https://api.search.brave.com/res/v1/web/search",
		Count:     3,
		Country:   "US",
		Lang:      "en",
		Client:    http.DefaultClient,
		sanitizer: bluemonday.StrictPolicy(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Name returns the name of the tool.
func (b *BraveSearch) Name() string {
	return "Brave_Search"
}

// Description returns the description of the tool.
func (b *BraveSearch) Description() string {
	return "A privacy-focused web search engine. " +
		"Useful for current information the local documents do not cover. " +
		"Input should be a search query."
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
		} `json:"results"`
	} `json:"web"`
}

// clean removes markup such as the <strong> highlights Brave puts in snippets.
func (b *BraveSearch) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(b.sanitizer.Sanitize(s)))
}

// Search returns one document per web result. PageContent holds the title
// and snippet; the URL is in Metadata["source"].
func (b *BraveSearch) Search(ctx context.Context, query string) ([]schema.Document, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(b.Count))
	if b.Country != "" {
		params.Set("country", b.Country)
	}
	if b.Lang != "" {
		params.Set("search_lang", b.Lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave api returned status: %d", resp.StatusCode)
	}

	var result braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	docs := make([]schema.Document, 0, len(result.Web.Results))
	for _, r := range result.Web.Results {
		title := b.clean(r.Title)
		desc := b.clean(r.Description)
		metadata := map[string]any{"source": r.URL, "title": title}
		if r.Age != "" {
			metadata["age"] = r.Age
		}
		docs = append(docs, schema.Document{
			PageContent: title + "\n" + desc,
			Metadata:    metadata,
		})
	}
	return docs, nil
}

// Call executes the search and formats the results as text.
func (b *BraveSearch) Call(ctx context.Context, input string) (string, error) {
	docs, err := b.Search(ctx, input)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "No results found", nil
	}

	var sb strings.Builder
	for i, doc := range docs {
		title, _ := doc.Metadata["title"].(string)
		source, _ := doc.Metadata["source"].(string)
		desc := strings.TrimPrefix(doc.PageContent, title+"\n")
		fmt.Fprintf(&sb, "%d. Title: %s\nURL: %s\nDescription: %s\n\n", i+1, title, source, desc)
	}
	return sb.String(), nil
}
