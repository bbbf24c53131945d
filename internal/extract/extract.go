// Package extract turns raw mail bodies into denoised text, a short summary,
// and key points. Extraction runs an ordered chain of strategies, each
// cheaper and more robust than the last, and never fails outward.
package extract

import (
	stdhtml "html"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mailhive-io/mailhive/pkg/protocol"
)

// Extraction method tags recorded on each result.
const (
	MethodEmpty          = "empty_content"
	MethodReadability    = "readability_html"
	MethodHTMLToText     = "html_to_text"
	MethodStructuredText = "structured_text"
	MethodBasicFallback  = "basic_fallback"
)

const (
	summaryMax     = 300
	keyPointMin    = 15
	keyPointMax    = 200
	maxKeyPoints   = 5
	importantMin   = 10
	importantMax   = 500
	dedupMinLen    = 5
	basicClipChars = 200
)

// Patterns marking an element as important regardless of length.
var importantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(urgent|important|deadline|meeting|project|task|issue|bug|error)\b`),
	regexp.MustCompile(`(?i)\b(request|approve|review|feedback|action|required)\b`),
	regexp.MustCompile(`(?i)\b(schedule|appointment|conference|call)\b`),
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`\+?[\d\s\-()]{10,}`),
	regexp.MustCompile(`\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}`),
	regexp.MustCompile(`\d{1,2}:\d{2}\s*(AM|PM|am|pm)?`),
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// Conservative allow-list for the last-resort cleanup. Unicode letters
	// and digits survive so non-ASCII mail is not destroyed.
	disallowedRe = regexp.MustCompile("[^\\p{L}\\p{N}_\\s.,!?;:\\-()\\[\\]{}@#$%^&*+=|\\\\/'\"`~<>]")
)

// Normalizer cleans raw mail bodies via the extraction strategy chain.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// stage is one extraction strategy. A stage either succeeds with a result
// or reports an error so the chain advances to the next one.
type stage struct {
	method string
	run    func(body string) (result, error)
}

type result struct {
	cleanedText string
	summary     string
	keyPoints   []string
}

// Normalize runs the strategy chain for the given content type. It always
// returns a usable result; the Method field records which stage produced it.
func (n *Normalizer) Normalize(body string, contentType protocol.ContentType) protocol.NormalizedMail {
	if strings.TrimSpace(body) == "" {
		return protocol.NormalizedMail{Method: MethodEmpty}
	}

	return n.run(n.chainFor(contentType), body)
}

// chainFor returns the strategy chain for a content type: HTML tries a
// structural readability parse before the generic tag walk; plain text goes
// straight to the line filter.
func (n *Normalizer) chainFor(contentType protocol.ContentType) []stage {
	if contentType == protocol.ContentHTML {
		return []stage{
			{MethodReadability, n.fromReadability},
			{MethodHTMLToText, n.fromHTMLText},
		}
	}
	return []stage{
		{MethodStructuredText, n.fromStructuredText},
	}
}

// run tries each stage in order and falls back to the basic cleanup when
// all of them fail.
func (n *Normalizer) run(stages []stage, body string) protocol.NormalizedMail {
	for _, s := range stages {
		res, err := s.run(body)
		if err != nil {
			n.logger.Debug("extraction stage failed", "method", s.method, "err", err)
			continue
		}
		return protocol.NormalizedMail{
			CleanedText: res.cleanedText,
			Summary:     res.summary,
			KeyPoints:   res.keyPoints,
			Method:      s.method,
		}
	}

	// Last resort: entity decode, collapse whitespace, strip exotic chars.
	cleaned := basicClean(body)
	return protocol.NormalizedMail{
		CleanedText: cleaned,
		Summary:     clipRunes(cleaned, basicClipChars),
		Method:      MethodBasicFallback,
	}
}

// fromStructuredText handles plain-text bodies: drop trivially short lines,
// then run the importance filter.
func (n *Normalizer) fromStructuredText(body string) (result, error) {
	var lines, important []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= 3 {
			continue
		}
		lines = append(lines, line)
		if isImportant(line) {
			important = append(important, line)
		}
	}
	return assemble(lines, important), nil
}

// assemble builds the final result from all elements plus the important
// subset: dedup, join, summarize, pick key points.
func assemble(elements, important []string) result {
	cleaned := basicClean(strings.Join(dedup(elements), "\n"))
	return result{
		cleanedText: cleaned,
		summary:     summarize(important, cleaned),
		keyPoints:   keyPoints(important),
	}
}

// isImportant reports whether an element carries signal: business keywords,
// contact info, date/time patterns, or simply a reasonable length. Length
// bounds count runes, not bytes, so multibyte text is measured fairly.
func isImportant(text string) bool {
	text = strings.TrimSpace(text)
	length := utf8.RuneCountInString(text)
	if length < importantMin {
		return false
	}
	for _, re := range importantPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return length <= importantMax
}

// dedup removes case-insensitive duplicates longer than dedupMinLen,
// preserving first occurrence.
func dedup(elements []string) []string {
	seen := make(map[string]bool, len(elements))
	var unique []string
	for _, e := range elements {
		key := strings.ToLower(strings.TrimSpace(e))
		if key == "" || utf8.RuneCountInString(key) <= dedupMinLen || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, strings.TrimSpace(e))
	}
	return unique
}

// summarize joins the first three important elements, falling back to the
// full cleaned text, truncated to summaryMax.
func summarize(important []string, cleaned string) string {
	var summary string
	if len(important) > 0 {
		top := important
		if len(top) > 3 {
			top = top[:3]
		}
		summary = strings.Join(top, " ")
	} else {
		summary = cleaned
	}
	if len([]rune(summary)) > summaryMax {
		summary = string([]rune(summary)[:summaryMax-3]) + "..."
	}
	return strings.TrimSpace(summary)
}

// keyPoints picks suitably sized elements from the first five important ones.
func keyPoints(important []string) []string {
	if len(important) > maxKeyPoints {
		important = important[:maxKeyPoints]
	}
	var points []string
	for _, e := range important {
		e = strings.TrimSpace(e)
		if length := utf8.RuneCountInString(e); length >= keyPointMin && length < keyPointMax {
			points = append(points, e)
		}
	}
	return points
}

// basicClean decodes HTML entities, collapses whitespace, and strips
// characters outside the allow-list.
func basicClean(text string) string {
	if text == "" {
		return ""
	}
	text = stdhtml.UnescapeString(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = disallowedRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// clipRunes truncates s to max runes, appending an ellipsis when clipped.
func clipRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
