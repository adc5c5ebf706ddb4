package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"FeeSync/internal/config"
	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

const (
	atomMediaType = "application/atom+xml"
)

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	Content *atomContent `xml:"http://www.w3.org/2005/Atom content"`
}

type atomContent struct {
	Text string `xml:",chardata"`
}

// FeedClient reads the encounter Atom feed of the source system.
type FeedClient struct {
	transport *Transport
	baseURL   string
	feedURL   string
	logger    *slog.Logger
}

var _ ports.FeedSource = (*FeedClient)(nil)

// NewFeedClient builds a client for cfg's feed endpoint.
func NewFeedClient(transport *Transport, cfg config.SourceConfig, logger *slog.Logger) *FeedClient {
	return &FeedClient{
		transport: transport,
		baseURL:   cfg.BaseURL,
		feedURL:   cfg.FeedURL(),
		logger:    logger,
	}
}

// FetchRecentEntries returns the feed entries in document order.
func (c *FeedClient) FetchRecentEntries(ctx context.Context) ([]domain.FeedEntry, error) {
	body, err := c.transport.Get(ctx, c.feedURL, atomMediaType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFeedUnavailable, err)
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base url %s: %w", domain.ErrFeedUnavailable, c.baseURL, err)
	}

	entries, err := parseFeed(body, base, c.logger)
	if err != nil {
		return nil, err
	}

	if c.logger != nil {
		c.logger.Debug("feed fetched", "url", c.feedURL, "entries", len(entries))
	}
	return entries, nil
}

func parseFeed(body []byte, base *url.URL, logger *slog.Logger) ([]domain.FeedEntry, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFeedMalformed, err)
	}

	entries := make([]domain.FeedEntry, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if entry.Content == nil {
			continue
		}
		pointer := strings.TrimSpace(entry.Content.Text)
		if pointer == "" {
			continue
		}

		ref, err := url.Parse(pointer)
		if err != nil {
			if logger != nil {
				logger.Warn("feed entry dropped: unparsable content pointer", "pointer", pointer, "error", err)
			}
			continue
		}
		contentURL := base.ResolveReference(ref)

		id := encounterIDFromURL(contentURL)
		if id == "" {
			if logger != nil {
				logger.Warn("feed entry dropped: no encounter id in content pointer", "url", contentURL.String())
			}
			continue
		}
		entries = append(entries, domain.FeedEntry{ContentURL: contentURL.String(), EncounterID: id})
	}
	return entries, nil
}

// encounterIDFromURL returns the raw (still escaped) last path segment.
// A path ending in "/" has no id.
func encounterIDFromURL(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" || strings.HasSuffix(p, "/") {
		return ""
	}
	return path.Base(p)
}
