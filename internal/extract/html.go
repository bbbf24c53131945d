package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	xhtml "golang.org/x/net/html"
)

// Noise stripped from HTML bodies before any structural parse, in order:
// head matter, tracking pixels, auto-mail boilerplate, empty blocks.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<meta[^>]*>`),
	regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)<!DOCTYPE[^>]*>`),
	regexp.MustCompile(`(?s)<!--.*?-->`),

	regexp.MustCompile(`(?i)<img[^>]*aria-hidden[^>]*>`),
	regexp.MustCompile(`(?i)<img[^>]*role="presentation"[^>]*>`),
	regexp.MustCompile(`(?i)<img[^>]*height="1"[^>]*width="1"[^>]*>`),

	regexp.MustCompile(`(?i)You are receiving this email because[^<\n]*`),
	regexp.MustCompile(`(?i)Privacy\s*Statement[^<\n]*`),
	regexp.MustCompile(`(?i)https://\S*tracking\S*`),
	regexp.MustCompile(`(?i)https://\S*unsubscribe\S*`),

	regexp.MustCompile(`(?i)<p[^>]*>\s*</p>`),
	regexp.MustCompile(`(?i)<div[^>]*>\s*</div>`),
	regexp.MustCompile(`(?i)<span[^>]*>\s*</span>`),
}

var blankRunsRe = regexp.MustCompile(`\n\s*\n\s*\n+`)

// Mail bodies have no origin URL; readability only needs one for resolving
// relative links, which we discard anyway.
var mailURL = &url.URL{Scheme: "message", Host: "local"}

// stripNoise applies the noise patterns in order.
func stripNoise(src string) string {
	for _, re := range noisePatterns {
		src = re.ReplaceAllString(src, "")
	}
	return blankRunsRe.ReplaceAllString(src, "\n\n")
}

// fromReadability is the primary HTML stage: noise strip, then a structural
// readability parse into elements.
func (n *Normalizer) fromReadability(body string) (result, error) {
	article, err := readability.FromReader(strings.NewReader(stripNoise(body)), mailURL)
	if err != nil {
		return result{}, fmt.Errorf("extract: readability parse: %w", err)
	}

	var buf bytes.Buffer
	if err := article.RenderText(&buf); err != nil {
		return result{}, fmt.Errorf("extract: readability render: %w", err)
	}

	elements, important := classifyLines(buf.String())
	if len(elements) == 0 {
		return result{}, fmt.Errorf("extract: readability produced no content")
	}
	return assemble(elements, important), nil
}

// fromHTMLText is the generic HTML fallback: a plain tag walk dropping
// links and images, then the line-by-line importance filter.
func (n *Normalizer) fromHTMLText(body string) (result, error) {
	text, err := htmlToText(stripNoise(body))
	if err != nil {
		return result{}, fmt.Errorf("extract: html to text: %w", err)
	}

	elements, important := classifyLines(text)
	if len(elements) == 0 {
		return result{}, fmt.Errorf("extract: html produced no content")
	}
	return assemble(elements, important), nil
}

// classifyLines splits rendered text into trimmed non-empty lines and
// flags the important ones.
func classifyLines(text string) (elements, important []string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		elements = append(elements, line)
		if isImportant(line) {
			important = append(important, line)
		}
	}
	return elements, important
}

// Block-level tags that terminate a line in the text rendering.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"table": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "blockquote": true, "ul": true, "ol": true,
}

// htmlToText renders HTML as plain text, skipping script/style subtrees
// and images, keeping anchor text without the link target.
func htmlToText(src string) (string, error) {
	doc, err := xhtml.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(*xhtml.Node)
	walk = func(node *xhtml.Node) {
		if node.Type == xhtml.ElementNode {
			switch node.Data {
			case "script", "style", "head", "img":
				return
			}
		}
		if node.Type == xhtml.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if node.Type == xhtml.ElementNode && blockTags[node.Data] {
			b.WriteString("\n")
		}
	}
	walk(doc)

	return b.String(), nil
}
