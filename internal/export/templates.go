package export

import (
	"bytes"
	"html/template"

	"github.com/eveshi/bitranslator/internal/segment"
)

// TemplateData holds data for the chapter template.
type TemplateData struct {
	ProjectName     string
	Title           string
	TranslatedTitle string
	BodyNumber      *int
	Segments        []segment.Segment
}

var chapterTemplate = template.Must(template.New("chapter").Funcs(template.FuncMap{
	// Segment HTML is escaped at split time; marks are the only markup.
	"safeHTML": func(s string) template.HTML { return template.HTML(s) },
}).Parse(chapterTemplateSrc))

// RenderChapterHTML renders the printable chapter page.
func RenderChapterHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := chapterTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const chapterTemplateSrc = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{if .TranslatedTitle}}{{.TranslatedTitle}}{{else}}{{.Title}}{{end}}</title>
  <style>
    body { font-family: Georgia, 'Noto Serif CJK SC', serif; line-height: 1.8; max-width: 680px; margin: 2rem auto; color: #1a1a1a; }
    h1 { font-size: 1.5rem; text-align: center; margin-bottom: 0.25rem; }
    .original-title { text-align: center; color: #666; font-size: 0.95rem; margin-bottom: 2rem; }
    .project { text-align: center; color: #999; font-size: 0.8rem; margin-bottom: 0.5rem; }
    h2.heading { font-size: 1.15rem; text-align: center; margin: 2rem 0 1rem; }
    p { text-indent: 2em; margin: 0 0 0.6em; }
    .separator { text-align: center; letter-spacing: 0.6em; margin: 1.5rem 0; color: #888; }
    mark { background: none; border-bottom: 1px dotted #888; }
    mark[data-kind="highlight"] { background: #fdf3c8; border-bottom: none; }
  </style>
</head>
<body>
  <div class="project">{{.ProjectName}}</div>
  <h1>{{if .BodyNumber}}{{.BodyNumber}}. {{end}}{{if .TranslatedTitle}}{{.TranslatedTitle}}{{else}}{{.Title}}{{end}}</h1>
  {{if .TranslatedTitle}}<div class="original-title">{{.Title}}</div>{{end}}
  {{range .Segments}}{{if eq .Type "heading"}}
  <h2 class="heading">{{safeHTML .HTML}}</h2>
  {{else if eq .Type "separator"}}
  <div class="separator">{{safeHTML .HTML}}</div>
  {{else}}
  <p>{{safeHTML .HTML}}</p>
  {{end}}{{end}}
</body>
</html>`
