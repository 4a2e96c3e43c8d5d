package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/snippetstream/snippetstream/internal/pkg/env"
)

const (
	PlatformTwitter   = "twitter"
	PlatformLinkedin  = "linkedin"
	PlatformInstagram = "instagram"
)

// Output holds the per-platform variants produced from one source
// text.
type Output struct {
	TwitterThread     string `json:"twitter_thread"`
	LinkedinPost      string `json:"linkedin_post"`
	InstagramCarousel string `json:"instagram_carousel"`
}

// Generator turns source content into platform variants.
type Generator interface {
	Generate(ctx context.Context, content string, platforms []string) (*Output, error)
}

// HTTPGenerator calls the upstream generation service.
type HTTPGenerator struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewHTTPGeneratorFromEnv() *HTTPGenerator {
	return &HTTPGenerator{
		APIKey:     strings.TrimSpace(env.GetEnv("GENERATOR_API_KEY", "")),
		APIBaseURL: strings.TrimRight(strings.TrimSpace(env.GetEnv("GENERATOR_API_URL", "")), "/"),
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, content string, platforms []string) (*Output, error) {
	if strings.TrimSpace(g.APIBaseURL) == "" {
		return nil, errors.New("GENERATOR_API_URL is not configured")
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content is required")
	}
	if len(platforms) == 0 {
		platforms = []string{PlatformTwitter, PlatformLinkedin, PlatformInstagram}
	}

	body, err := json.Marshal(map[string]interface{}{
		"content":   content,
		"platforms": platforms,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.APIBaseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generation request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out Output
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// ExtractArticleText fetches a URL and reduces the page to plain text
// suitable as generation input. It is intentionally crude; the
// upstream service handles messy input well.
func ExtractArticleText(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", "snippetstream/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: status=%d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", err
	}

	text := scriptRe.ReplaceAllString(string(body), " ")
	text = tagRe.ReplaceAllString(text, " ")
	text = spaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("no extractable text at url")
	}
	return text, nil
}
