// Package template renders block-tree email documents into final subject,
// HTML and plain-text content.
package template

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"mailcourier/internal/common/errors"
)

// Document is the rendered-ready template shape handed over by the template
// editor: a subject line plus an ordered tree of typed blocks.
type Document struct {
	Subject string  `json:"subject"`
	Blocks  []Block `json:"blocks"`
}

// Block is one node of the document tree. Fields are interpreted per Type;
// unused fields are ignored.
type Block struct {
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	Level    int     `json:"level,omitempty"`
	Label    string  `json:"label,omitempty"`
	URL      string  `json:"url,omitempty"`
	Src      string  `json:"src,omitempty"`
	Alt      string  `json:"alt,omitempty"`
	Children []Block `json:"children,omitempty"`
}

// Supported block types.
const (
	BlockText    = "text"
	BlockHeading = "heading"
	BlockButton  = "button"
	BlockImage   = "image"
	BlockDivider = "divider"
	BlockSpacer  = "spacer"
	BlockSection = "section"
)

// Result is the rendered output. Variables lists every variable name the
// document referenced, sorted and deduplicated, so callers can diagnose
// silently-missing values.
type Result struct {
	Subject   string
	HTML      string
	Text      string
	Variables []string
}

var variablePattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

type renderer struct {
	vars       map[string]string
	referenced map[string]struct{}
}

// Render produces {subject, html, text} from a document and a flat variable
// mapping. Rendering is pure: identical inputs yield byte-identical output.
// Variables absent from the mapping render as empty string rather than
// failing, so malformed personalization data degrades instead of blocking
// delivery. An unsupported block type fails the whole render.
func Render(doc Document, vars map[string]string) (*Result, error) {
	r := &renderer{
		vars:       vars,
		referenced: make(map[string]struct{}),
	}

	var htmlOut strings.Builder
	var textOut strings.Builder

	htmlOut.WriteString("<!DOCTYPE html><html><body>")
	if err := r.renderBlocks(doc.Blocks, &htmlOut, &textOut); err != nil {
		return nil, err
	}
	htmlOut.WriteString("</body></html>")

	subject := r.substitute(doc.Subject, false)

	names := make([]string, 0, len(r.referenced))
	for name := range r.referenced {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Result{
		Subject:   subject,
		HTML:      htmlOut.String(),
		Text:      textOut.String(),
		Variables: names,
	}, nil
}

func (r *renderer) renderBlocks(blocks []Block, htmlOut, textOut *strings.Builder) error {
	for _, b := range blocks {
		if err := r.renderBlock(b, htmlOut, textOut); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) renderBlock(b Block, htmlOut, textOut *strings.Builder) error {
	switch b.Type {
	case BlockText:
		body := r.substitute(b.Text, true)
		htmlOut.WriteString("<p>" + body + "</p>")
		textOut.WriteString(r.substitute(b.Text, false) + "\n")

	case BlockHeading:
		level := b.Level
		if level < 1 || level > 6 {
			level = 1
		}
		body := r.substitute(b.Text, true)
		fmt.Fprintf(htmlOut, "<h%d>%s</h%d>", level, body, level)
		textOut.WriteString(r.substitute(b.Text, false) + "\n\n")

	case BlockButton:
		label := r.substitute(b.Label, true)
		url := r.substitute(b.URL, true)
		fmt.Fprintf(htmlOut, `<a href="%s" class="btn">%s</a>`, url, label)
		fmt.Fprintf(textOut, "%s: %s\n", r.substitute(b.Label, false), r.substitute(b.URL, false))

	case BlockImage:
		src := r.substitute(b.Src, true)
		alt := r.substitute(b.Alt, true)
		fmt.Fprintf(htmlOut, `<img src="%s" alt="%s"/>`, src, alt)
		if b.Alt != "" {
			textOut.WriteString("[" + r.substitute(b.Alt, false) + "]\n")
		}

	case BlockDivider:
		htmlOut.WriteString("<hr/>")
		textOut.WriteString("----------------------------------------\n")

	case BlockSpacer:
		htmlOut.WriteString("<br/>")
		textOut.WriteString("\n")

	case BlockSection:
		htmlOut.WriteString("<div>")
		if err := r.renderBlocks(b.Children, htmlOut, textOut); err != nil {
			return err
		}
		htmlOut.WriteString("</div>")

	default:
		// Partially rendered content must never be sent.
		return errors.NewTemplateRenderError(fmt.Sprintf("unsupported block type: %q", b.Type))
	}
	return nil
}

// substitute replaces {{name}} references, recording each referenced name.
// Values are HTML-escaped when emitted into HTML context.
func (r *renderer) substitute(s string, escape bool) string {
	return variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		r.referenced[name] = struct{}{}
		val := r.vars[name]
		if escape {
			return html.EscapeString(val)
		}
		return val
	})
}
