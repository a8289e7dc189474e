package api

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown renders model responses for the share page. GFM matches what
// the SPA renders in the chat view.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var sharePage = template.Must(template.New("share").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} — SMEPro</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a2e; }
h1 { font-size: 1.4rem; border-bottom: 2px solid #e0e0e8; padding-bottom: .5rem; }
.turn { margin: 1.25rem 0; padding: .75rem 1rem; border-radius: .5rem; }
.turn.user { background: #eef2ff; }
.turn.model { background: #f6f6f9; }
.author { font-size: .8rem; font-weight: 600; color: #555; margin-bottom: .35rem; }
.experts { color: #555; font-size: .85rem; }
cite a { color: #3949ab; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="experts">{{.Experts}}</p>
{{range .Turns}}<div class="turn {{.Role}}">
<div class="author">{{.Author}}</div>
{{.Body}}
</div>
{{end}}</body>
</html>
`))

type shareTurn struct {
	Role   string
	Author string
	Body   template.HTML
}

// Share renders a read-only HTML transcript of the session, suitable
// for exporting or sending to someone without an SMEPro account.
func (h *SessionHandler) Share(w http.ResponseWriter, r *http.Request) {
	sess, err := h.hub.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.sessionError(w, err, "share")
		return
	}

	title := sess.Title
	if title == "" {
		title = "Untitled Session"
	}

	turns := make([]shareTurn, 0, len(sess.Messages))
	for i := range sess.Messages {
		msg := &sess.Messages[i]
		body, err := renderTurn(msg)
		if err != nil {
			Error(w, http.StatusInternalServerError, "failed to render transcript")
			return
		}
		turns = append(turns, shareTurn{
			Role:   string(msg.Role),
			Author: turnAuthor(msg),
			Body:   body,
		})
	}

	var buf bytes.Buffer
	err = sharePage.Execute(&buf, map[string]interface{}{
		"Title":   title,
		"Experts": expertLine(sess.SmeConfigs),
		"Turns":   turns,
	})
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to render transcript")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func renderTurn(msg *domain.Message) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(msg.Text()), &buf); err != nil {
		return "", err
	}
	if p := msg.Payload; p != nil {
		for _, c := range p.Citations {
			fmt.Fprintf(&buf, `<cite><a href="%s">%s</a></cite><br>`,
				template.HTMLEscapeString(c.URI), template.HTMLEscapeString(c.Title))
		}
	}
	return template.HTML(buf.String()), nil
}

func turnAuthor(msg *domain.Message) string {
	if msg.Role == domain.RoleUser {
		if msg.UserName != "" {
			return msg.UserName
		}
		return "User"
	}
	return "SME"
}

func expertLine(configs []domain.SmeConfig) string {
	if len(configs) == 0 {
		return "General assistant"
	}
	names := make([]string, len(configs))
	for i, c := range configs {
		names[i] = fmt.Sprintf("%s (%s, %s)", c.Segment, c.SubType, c.Industry)
	}
	return "Experts: " + strings.Join(names, " · ")
}
