package extract

import (
	"strings"
	"testing"
)

func TestStripNoise(t *testing.T) {
	src := `<!DOCTYPE html><html><head>
<meta charset="utf-8">
<style>.x{color:blue}</style>
<script>spy()</script>
</head><body>
<!-- hidden comment -->
<img height="1" width="1" src="https://t.example.com/pixel">
<p>Real content stays.</p>
<p></p>
<div>  </div>
You are receiving this email because you subscribed.
https://news.example.com/unsubscribe?u=1
</body></html>`

	got := stripNoise(src)
	for _, bad := range []string{"<style", "<script", "<!DOCTYPE", "hidden comment", `height="1"`, "receiving this email", "unsubscribe"} {
		if strings.Contains(got, bad) {
			t.Errorf("noise %q survived", bad)
		}
	}
	if !strings.Contains(got, "Real content stays.") {
		t.Errorf("content removed: %q", got)
	}
}

func TestHTMLToText(t *testing.T) {
	src := `<html><body>
<h1>Status report</h1>
<p>The deploy <a href="https://ci.example.com/run/42">finished</a> cleanly.</p>
<img src="chart.png" alt="chart">
<script>alert(1)</script>
<ul><li>first item</li><li>second item</li></ul>
</body></html>`

	got, err := htmlToText(src)
	if err != nil {
		t.Fatalf("htmlToText: %v", err)
	}
	if !strings.Contains(got, "Status report") || !strings.Contains(got, "finished") {
		t.Errorf("text missing: %q", got)
	}
	// Anchor text is kept, the target is not.
	if strings.Contains(got, "ci.example.com") {
		t.Errorf("link target leaked: %q", got)
	}
	if strings.Contains(got, "alert(1)") {
		t.Errorf("script leaked: %q", got)
	}
	// Block elements produce line breaks.
	if !strings.Contains(got, "first item\n") {
		t.Errorf("list items not line-separated: %q", got)
	}
}

func TestClassifyLines(t *testing.T) {
	elements, important := classifyLines("\nshort\nThe project deadline moved to Friday.\n\n  trailing ws line here  \n")
	if len(elements) != 3 {
		t.Fatalf("elements = %v", elements)
	}
	if len(important) == 0 || !strings.Contains(important[0], "deadline") {
		t.Errorf("important = %v", important)
	}
}
