package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPreviewSanitizesHTML(t *testing.T) {
	parsed := &Parsed{
		Subject: "<b>report</b>",
		Date:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		HTMLBody: `<p onclick="steal()">hello <a href="https://example.com">there</a></p>` +
			`<script>alert("owned")</script>` +
			`<iframe src="https://evil.example"></iframe>`,
		Mentions:    []ParsedMention{{Mention: "FROM", Name: "Alice", Address: "alice@example.com"}},
		Attachments: []ParsedAttachment{{FileName: "f.pdf"}},
	}

	preview, err := RenderPreview(parsed)
	require.NoError(t, err)
	page := string(preview)

	assert.Contains(t, page, "hello")
	assert.Contains(t, page, `href="https://example.com"`)
	assert.NotContains(t, page, "<script")
	assert.NotContains(t, page, "owned")
	assert.NotContains(t, page, "onclick")
	assert.NotContains(t, page, "<iframe")

	assert.Contains(t, page, "&lt;b&gt;report&lt;/b&gt;")
	assert.Contains(t, page, "Alice &lt;alice@example.com&gt;")
	assert.Contains(t, page, "f.pdf")
}

func TestRenderPreviewFallsBackToPlain(t *testing.T) {
	parsed := &Parsed{
		HTMLBody:  `<script>alert("owned")</script>`,
		PlainBody: "1 < 2",
	}

	preview, err := RenderPreview(parsed)
	require.NoError(t, err)
	assert.Contains(t, string(preview), "<pre>1 &lt; 2</pre>")
	assert.NotContains(t, string(preview), "owned")
}
