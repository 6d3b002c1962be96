package render

import (
	"strings"
	"testing"
)

// TestMarkdownToHTML verifies the Telegram HTML subset conversion for the
// markdown constructs agents actually emit.
func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name string
		md   string
		want []string
	}{
		{
			"bold and italic",
			"**bold** and *italic*",
			[]string{"<b>bold</b>", "<i>italic</i>"},
		},
		{
			"heading becomes bold",
			"# Release notes",
			[]string{"<b>Release notes</b>"},
		},
		{
			"inline code",
			"run `go vet` first",
			[]string{"<code>go vet</code>"},
		},
		{
			"fenced code with language",
			"```toml\n[voice]\nprovider = \"openai\"\n```",
			[]string{`<pre><code class="language-toml">`, "provider = \"openai\"", "</code></pre>"},
		},
		{
			"fenced code without language",
			"```\nplain block\n```",
			[]string{"<pre><code>plain block\n</code></pre>"},
		},
		{
			"unordered list",
			"- first\n- second",
			[]string{"• first\n", "• second\n"},
		},
		{
			"ordered list keeps numbering",
			"1. one\n2. two",
			[]string{"1. one\n", "2. two\n"},
		},
		{
			"link",
			"[docs](https://example.com/a?b=1&c=2)",
			[]string{`<a href="https://example.com/a?b=1&amp;c=2">docs</a>`},
		},
		{
			"strikethrough",
			"~~gone~~",
			[]string{"<s>gone</s>"},
		},
		{
			"escapes angle brackets",
			"compare a < b && b > c",
			[]string{"a &lt; b &amp;&amp; b &gt; c"},
		},
		{
			"blockquote",
			"> quoted line",
			[]string{"<blockquote>", "quoted line", "</blockquote>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MarkdownToHTML(tt.md)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Fatalf("MarkdownToHTML(%q) = %q, missing %q", tt.md, got, want)
				}
			}
		})
	}
}

// TestMarkdownToHTMLTrimsSurroundingSpace verifies the output has no
// leading or trailing blank lines for Telegram edits.
func TestMarkdownToHTMLTrimsSurroundingSpace(t *testing.T) {
	got := MarkdownToHTML("hello\n")
	if got != "hello" {
		t.Fatalf("MarkdownToHTML = %q, want %q", got, "hello")
	}
}

// TestEscapeHTML verifies the fallback escaper handles all three
// characters Telegram rejects in text.
func TestEscapeHTML(t *testing.T) {
	got := escapeHTML(`<b>&"quoted"`)
	want := `&lt;b&gt;&amp;"quoted"`
	if got != want {
		t.Fatalf("escapeHTML = %q, want %q", got, want)
	}
}
