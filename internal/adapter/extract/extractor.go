// Package extract is the content-extraction call site: it fetches a URL and
// reduces HTML to plain text for the cascade. Providers here represent
// alternative extraction strategies rather than remote backends.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/provider-cascade/internal/config"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
	"github.com/fairyhunter13/provider-cascade/internal/engine"
	obsctx "github.com/fairyhunter13/provider-cascade/internal/observability"
)

// Extraction strategies selectable via the provider's Model field.
const (
	// StrategyBody strips scripts, styles, and tags from the whole body.
	StrategyBody = "body-text"
	// StrategyReadable additionally collapses boilerplate whitespace and
	// drops navigation-sized fragments.
	StrategyReadable = "readable-text"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style.*?</style>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// Extractor fetches URLs and converts HTML to text.
type Extractor struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs an extractor with the configured timeout.
func New(cfg config.Config) *Extractor {
	return &Extractor{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.ExtractTimeout},
	}
}

// Fingerprint returns the cache key for a URL extraction; extraction is
// deterministic in its inputs, so results are safe to memoize.
func Fingerprint(rawURL string) string {
	return engine.Fingerprint("extract", rawURL)
}

// InvokeFunc returns the cascade invoke function for one URL.
func (e *Extractor) InvokeFunc(rawURL string) domain.InvokeFunc {
	return func(ctx context.Context, p domain.Provider) (string, error) {
		return e.extract(ctx, p, rawURL)
	}
}

func (e *Extractor) extract(ctx context.Context, p domain.Provider, rawURL string) (string, error) {
	lg := obsctx.LoggerFromContext(ctx)

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("op=extract.extract: new request: %w", err)
	}
	req.Header.Set("User-Agent", e.cfg.ExtractUserAgent)
	resp, err := e.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=extract.extract: fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=extract.extract: fetch %s status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.ExtractMaxBody))
	if err != nil {
		return "", fmt.Errorf("op=extract.extract: read body: %w", err)
	}

	mt := mimetype.Detect(body)
	switch {
	case mt.Is("text/html"), mt.Is("application/xhtml+xml"):
		// fall through to HTML stripping
	case strings.HasPrefix(mt.String(), "text/"):
		lg.Debug("extraction fetched plain text",
			slog.String("url", rawURL),
			slog.String("mime", mt.String()))
		return string(body), nil
	default:
		return "", fmt.Errorf("op=extract.extract: unsupported content type %s for %s", mt.String(), rawURL)
	}

	text := htmlToText(string(body))
	if p.Model == StrategyReadable {
		text = readable(text)
	}
	lg.Debug("extraction completed",
		slog.String("url", rawURL),
		slog.String("strategy", p.Model),
		slog.Int("bytes_in", len(body)),
		slog.Int("chars_out", len(text)),
		slog.Duration("latency", time.Since(start)))
	return text, nil
}

// htmlToText strips scripts, styles, and tags, then normalizes whitespace.
func htmlToText(html string) string {
	s := scriptRe.ReplaceAllString(html, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, "\n")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// readable drops navigation-sized fragments, keeping lines with enough
// words to plausibly be prose.
func readable(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if len(strings.Fields(line)) >= 4 || line == "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
