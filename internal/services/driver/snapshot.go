package driver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cohortprobe/internal/interfaces"
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// PageSnapshot is a readable dump of page state used when a wait fails
type PageSnapshot struct {
	Markup string
	Fields map[string]string
}

// Snapshotter is implemented by drivers that can dump page state
type Snapshotter interface {
	Snapshot(ctx context.Context) (*PageSnapshot, error)
}

// Screenshotter is implemented by drivers that can capture the rendered page
type Screenshotter interface {
	Screenshot(ctx context.Context, path string) error
}

// MarkdownSnapshot converts page markup to markdown. baseURL resolves relative
// links. Falls back to stripped text when conversion fails or yields nothing.
func MarkdownSnapshot(markup, baseURL string) string {
	if markup == "" {
		return ""
	}

	converted, err := md.NewConverter(baseURL, true, nil).ConvertString(markup)
	if err != nil || strings.TrimSpace(converted) == "" {
		return stripTags(markup)
	}
	return converted
}

// Render formats the snapshot as markdown followed by the form field values
func (s *PageSnapshot) Render(baseURL string) string {
	var sb strings.Builder
	sb.WriteString(MarkdownSnapshot(s.Markup, baseURL))

	if len(s.Fields) > 0 {
		keys := make([]string, 0, len(s.Fields))
		for k := range s.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\n\nFields:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s = %q\n", k, s.Fields[k])
		}
	}
	return sb.String()
}

// LogSnapshot dumps the page at debug level if the driver supports it
func LogSnapshot(ctx context.Context, d interfaces.PageDriver, baseURL string, logger arbor.ILogger) {
	snapper, ok := d.(Snapshotter)
	if !ok {
		return
	}

	snap, err := snapper.Snapshot(ctx)
	if err != nil {
		logger.Debug().Err(err).Str("driver", d.Name()).Msg("Failed to capture page snapshot")
		return
	}

	logger.Debug().
		Str("driver", d.Name()).
		Str("snapshot", snap.Render(baseURL)).
		Msg("Page snapshot")
}

func stripTags(markup string) string {
	stripped := tagPattern.ReplaceAllString(markup, " ")
	cleaned := spacePattern.ReplaceAllString(stripped, " ")
	cleaned = strings.ReplaceAll(cleaned, "&amp;", "&")
	cleaned = strings.ReplaceAll(cleaned, "&lt;", "<")
	cleaned = strings.ReplaceAll(cleaned, "&gt;", ">")
	cleaned = strings.ReplaceAll(cleaned, "&quot;", "\"")
	return strings.TrimSpace(cleaned)
}
