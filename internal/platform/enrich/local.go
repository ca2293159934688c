// Package enrich provides local stand-in implementations of the pipeline's
// enrichment collaborators. Real deployments substitute remote crawler and
// AI-provider clients behind the same interfaces; these keep a single-binary
// install functional without external services.
package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Local implements pipeline.Crawler, Summarizer, Tagger and Slugger with
// plain heuristics.
type Local struct {
	client *http.Client
}

// NewLocal creates a Local enricher with a bounded HTTP client.
func NewLocal() *Local {
	return &Local{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// maxCrawlBytes caps how much of a fetched page is retained.
const maxCrawlBytes = 1 << 20

// Crawl fetches the URL and returns the response body as text.
func (l *Local) Crawl(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", url, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCrawlBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	return string(body), nil
}

// Summarize returns the leading sentences of the content, capped in length.
func (l *Local) Summarize(_ context.Context, content string) (string, error) {
	const maxLen = 500

	trimmed := strings.TrimSpace(content)
	if len(trimmed) <= maxLen {
		return trimmed, nil
	}

	cut := trimmed[:maxLen]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > maxLen/2 {
		cut = cut[:idx+1]
	}
	return strings.TrimSpace(cut), nil
}

// Tag returns the most frequent words of meaningful length as tags.
func (l *Local) Tag(_ context.Context, content string) ([]string, error) {
	counts := make(map[string]int)
	for _, word := range strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(word) >= 5 {
			counts[word]++
		}
	}

	words := make([]string, 0, len(counts))
	for word := range counts {
		words = append(words, word)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > 5 {
		words = words[:5]
	}
	return words, nil
}

// Slug derives a URL-safe slug from the first line of the content.
func (l *Local) Slug(_ context.Context, content string) (string, error) {
	line := strings.TrimSpace(content)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}

	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(line) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= 60 {
			break
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "", fmt.Errorf("content yields no slug")
	}
	return slug, nil
}
