package home

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"finitefield.org/hanko-signin/internal/signin/templates/helpers"
	"finitefield.org/hanko-signin/internal/signin/templates/layout"
)

// PageData is the rendering state of the home screen.
type PageData struct {
	DisplayName string
	Email       string
	CSRFToken   string
	LogoutPath  string
}

// Greeting returns the heading text for data.
func Greeting(data PageData) string {
	switch {
	case data.DisplayName != "":
		return "Welcome - " + data.DisplayName
	case data.Email != "":
		return "Welcome - " + data.Email
	default:
		return "Welcome"
	}
}

// Page renders the signed-in landing screen.
func Page(data PageData) templ.Component {
	logout := data.LogoutPath
	if logout == "" {
		logout = "/logout"
	}
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := helpers.NewPrinter(w)
		p.Raw(`<h1 class="heading">`)
		p.Text(Greeting(data))
		p.Raw(`</h1>`)
		if data.Email != "" {
			p.Raw(`<p class="account">`)
			p.Text(data.Email)
			p.Raw(`</p>`)
		}
		p.Raw(`<form method="post"`)
		p.Attr("action", logout)
		p.Raw(`><input type="hidden" name="csrf_token"`)
		p.Attr("value", data.CSRFToken)
		p.Raw(`><button type="submit">Logout</button></form>`)
		return p.Err()
	})
	return layout.Page("Home", body)
}
