// Package scraper wraps the website scraping and map-search HTTP APIs.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
)

type Page struct {
	URL      string
	Markdown string
	HTML     string
}

// Empty reports whether the scrape produced nothing usable.
func (p *Page) Empty() bool {
	return p == nil || (strings.TrimSpace(p.Markdown) == "" && strings.TrimSpace(p.HTML) == "")
}

type Place struct {
	Title      string  `json:"title"`
	Website    string  `json:"website"`
	Category   string  `json:"categoryName"`
	TotalScore float64 `json:"totalScore"`
}

type Client struct {
	scrapeURL    string
	scrapeAPIKey string
	searchURL    string
	searchToken  string
	searchActor  string
	http         *http.Client
	logger       *zap.Logger
}

func NewClient(cfg config.ScraperConfig, logger *zap.Logger) *Client {
	return &Client{
		scrapeURL:    strings.TrimRight(cfg.ScrapeURL, "/"),
		scrapeAPIKey: cfg.ScrapeAPIKey,
		searchURL:    strings.TrimRight(cfg.SearchURL, "/"),
		searchToken:  cfg.SearchToken,
		searchActor:  cfg.SearchActor,
		http:         &http.Client{Timeout: cfg.Timeout},
		logger:       logger,
	}
}

// Scrape fetches a page as markdown and raw html, footers included.
func (c *Client) Scrape(ctx context.Context, pageURL string) (*Page, error) {
	payload := scrapeRequest{
		URL:             pageURL,
		Formats:         []string{"markdown", "html"},
		OnlyMainContent: false,
		Timeout:         20000,
		ExcludeTags:     []string{"script", "style", "video", "canvas"},
	}

	var resp scrapeResponse
	if err := c.post(ctx, c.scrapeURL+"/v1/scrape", c.scrapeAPIKey, payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to scrape %s: %w", pageURL, err)
	}

	return &Page{URL: pageURL, Markdown: resp.Data.Markdown, HTML: resp.Data.HTML}, nil
}

// SearchPlaces runs one map query and returns at most limit places that have a website.
func (c *Client) SearchPlaces(ctx context.Context, query string, limit int) ([]Place, error) {
	payload := searchRequest{
		SearchStrings:      []string{query},
		MaxPlacesPerSearch: limit,
		SkipClosedPlaces:   true,
		OnlyWebsites:       true,
		ScrapeReviewerName: false,
		ScrapeReviewText:   false,
	}

	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?token=%s",
		c.searchURL, url.PathEscape(c.searchActor), url.QueryEscape(c.searchToken))

	var places []Place
	if err := c.post(ctx, endpoint, "", payload, &places); err != nil {
		return nil, fmt.Errorf("failed to search places for %q: %w", query, err)
	}

	if len(places) > limit && limit > 0 {
		places = places[:limit]
	}
	return places, nil
}

func (c *Client) post(ctx context.Context, endpoint, bearer string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("Scraper API rejected request",
			zap.String("endpoint", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(snippet)))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	Timeout         int      `json:"timeout"`
	ExcludeTags     []string `json:"excludeTags"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
		HTML     string `json:"html"`
	} `json:"data"`
}

type searchRequest struct {
	SearchStrings      []string `json:"searchStringsArray"`
	MaxPlacesPerSearch int      `json:"maxCrawledPlacesPerSearch"`
	SkipClosedPlaces   bool     `json:"skipClosedPlaces"`
	OnlyWebsites       bool     `json:"onlyWebsites"`
	ScrapeReviewerName bool     `json:"scrapeReviewerName"`
	ScrapeReviewText   bool     `json:"scrapeReviewText"`
}
