package pipeline

import "context"

// The enrichment services are external collaborators (crawlers, AI text
// providers). The pipeline consumes them through these narrow interfaces
// and treats their internals as opaque.

// Crawler fetches an item's source URL and returns its textual content.
type Crawler interface {
	Crawl(ctx context.Context, url string) (string, error)
}

// Summarizer produces a short summary of the given content.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
}

// Tagger derives descriptive tags from the given content.
type Tagger interface {
	Tag(ctx context.Context, content string) ([]string, error)
}

// Slugger derives a short URL-safe slug for the given content.
type Slugger interface {
	Slug(ctx context.Context, content string) (string, error)
}

// Enrichers bundles the pipeline's external collaborators.
type Enrichers struct {
	Crawler    Crawler
	Summarizer Summarizer
	Tagger     Tagger
	Slugger    Slugger
}
