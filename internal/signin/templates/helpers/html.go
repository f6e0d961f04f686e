// Package helpers holds small building blocks shared by the screen components.
package helpers

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Printer writes markup and remembers the first write error.
type Printer struct {
	w   io.Writer
	err error
}

// NewPrinter wraps w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Raw writes trusted markup.
func (p *Printer) Raw(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

// Text writes escaped text.
func (p *Printer) Text(s string) {
	p.Raw(templ.EscapeString(s))
}

// Attr writes ` name="value"` with the value escaped.
func (p *Printer) Attr(name, value string) {
	p.Raw(" " + name + `="` + templ.EscapeString(value) + `"`)
}

// BoolAttr writes ` name` when set is true.
func (p *Printer) BoolAttr(name string, set bool) {
	if set {
		p.Raw(" " + name)
	}
}

// Render writes a nested component.
func (p *Printer) Render(ctx context.Context, c templ.Component) {
	if p.err != nil || c == nil {
		return
	}
	p.err = c.Render(ctx, p.w)
}

// Err returns the first error encountered.
func (p *Printer) Err() error {
	return p.err
}

// Field describes one labeled input.
type Field struct {
	ID           string
	Name         string
	Label        string
	Type         string
	Value        string
	Placeholder  string
	Autocomplete string
}

// Input renders a labeled input row.
func Input(f Field) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := NewPrinter(w)
		p.Raw(`<div class="field">`)
		p.Raw(`<label`)
		p.Attr("for", f.ID)
		p.Raw(`>`)
		p.Text(f.Label)
		p.Raw(`</label><input`)
		p.Attr("id", f.ID)
		p.Attr("name", f.Name)
		p.Attr("type", f.Type)
		if f.Type != "password" && f.Value != "" {
			p.Attr("value", f.Value)
		}
		if f.Placeholder != "" {
			p.Attr("placeholder", f.Placeholder)
		}
		if f.Autocomplete != "" {
			p.Attr("autocomplete", f.Autocomplete)
		}
		p.Raw(`></div>`)
		return p.Err()
	})
}

// FormFooter renders the error region, submit button and the link to the
// sibling screen.
func FormFooter(errText, button string, submitting bool, prompt, linkHref, linkText string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := NewPrinter(w)
		p.Raw(`<div class="footer"><b class="error" role="alert" aria-live="polite">`)
		p.Text(errText)
		p.Raw(`</b><button type="submit"`)
		p.BoolAttr("disabled", submitting)
		p.Raw(`>`)
		p.Text(button)
		p.Raw(`</button><p>`)
		p.Text(prompt)
		p.Raw(` <span><a`)
		p.Attr("href", linkHref)
		p.Raw(`>`)
		p.Text(linkText)
		p.Raw(`</a></span></p></div>`)
		return p.Err()
	})
}
