package ingest

import (
	"bytes"
	"html/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
)

// Mail is untrusted, scripts, handlers and frames never reach the page.
var previewPolicy = bluemonday.UGCPolicy()

var previewTemplate = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Subject}}</title>
<style>
body { font-family: Arial, sans-serif; font-size: 14px; }
table.headers td:first-child { color: #777; padding-right: 1em; }
pre { white-space: pre-wrap; }
</style>
</head>
<body>
<table class="headers">
<tr><td>Subject</td><td>{{.Subject}}</td></tr>
<tr><td>Date</td><td>{{.Date}}</td></tr>
{{range .Mentions}}<tr><td>{{.Mention}}</td><td>{{if .Name}}{{.Name}} &lt;{{.Address}}&gt;{{else}}{{.Address}}{{end}}</td></tr>
{{end}}{{range .Attachments}}<tr><td>Attachment</td><td>{{.}}</td></tr>
{{end}}</table>
<hr>
{{if .HTML}}{{.HTML}}{{else}}<pre>{{.Plain}}</pre>{{end}}
</body>
</html>
`))

// Renders a self contained html page of a parsed message. The html body
// is sanitized before it is embedded, a plain body is escaped into a pre
// block.
func RenderPreview(parsed *Parsed) ([]byte, error) {
	var attachments []string
	for _, attachment := range parsed.Attachments {
		attachments = append(attachments, attachment.FileName)
	}

	data := struct {
		Subject     string
		Date        string
		Mentions    []ParsedMention
		Attachments []string
		HTML        template.HTML
		Plain       string
	}{
		Subject:     parsed.Subject,
		Date:        parsed.Date.Format(time.RFC1123Z),
		Mentions:    parsed.Mentions,
		Attachments: attachments,
		HTML:        template.HTML(previewPolicy.Sanitize(parsed.HTMLBody)),
		Plain:       parsed.PlainBody,
	}

	var buffer bytes.Buffer
	if err := previewTemplate.Execute(&buffer, data); err != nil {
		return nil, errors.Wrap(err, "could not render preview")
	}
	return buffer.Bytes(), nil
}
