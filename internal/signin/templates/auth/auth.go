package auth

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"finitefield.org/hanko-signin/internal/signin/templates/helpers"
	"finitefield.org/hanko-signin/internal/signin/templates/layout"
)

const csrfField = "csrf_token"

// LoginPage renders the full login document.
func LoginPage(data LoginPageData) templ.Component {
	return layout.Page("Login", LoginForm(data))
}

// LoginForm renders the login form. htmx swaps this fragment on failure.
func LoginForm(data LoginPageData) templ.Component {
	action := data.Action
	if action == "" {
		action = "/login"
	}
	signup := data.SignupPath
	if signup == "" {
		signup = "/signup"
	}
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := helpers.NewPrinter(w)
		openForm(p, "login-form", action, data.CSRFToken)
		p.Raw(`<h1 class="heading">Login</h1>`)
		if data.Message != "" {
			p.Raw(`<p class="notice" role="status">`)
			p.Text(data.Message)
			p.Raw(`</p>`)
		}
		p.Render(ctx, helpers.Input(helpers.Field{
			ID: "login-email", Name: "email", Label: "Email", Type: "email",
			Value: data.Email, Placeholder: "Enter email address", Autocomplete: "email",
		}))
		p.Render(ctx, helpers.Input(helpers.Field{
			ID: "login-password", Name: "password", Label: "Password", Type: "password",
			Placeholder: "Enter Password", Autocomplete: "current-password",
		}))
		p.Render(ctx, helpers.FormFooter(data.Error, "Login", data.Submitting,
			"Don't have an account?", signup, "Sign up"))
		p.Raw(`</form>`)
		return p.Err()
	})
}

// SignupPage renders the full signup document.
func SignupPage(data SignupPageData) templ.Component {
	return layout.Page("Signup", SignupForm(data))
}

// SignupForm renders the signup form.
func SignupForm(data SignupPageData) templ.Component {
	action := data.Action
	if action == "" {
		action = "/signup"
	}
	login := data.LoginPath
	if login == "" {
		login = "/login"
	}
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := helpers.NewPrinter(w)
		openForm(p, "signup-form", action, data.CSRFToken)
		p.Raw(`<h1 class="heading">Signup</h1>`)
		p.Render(ctx, helpers.Input(helpers.Field{
			ID: "signup-name", Name: "name", Label: "Name", Type: "text",
			Value: data.Name, Placeholder: "Enter your name", Autocomplete: "name",
		}))
		p.Render(ctx, helpers.Input(helpers.Field{
			ID: "signup-email", Name: "email", Label: "Email", Type: "email",
			Value: data.Email, Placeholder: "Enter email address", Autocomplete: "email",
		}))
		p.Render(ctx, helpers.Input(helpers.Field{
			ID: "signup-password", Name: "password", Label: "Password", Type: "password",
			Placeholder: "Enter password", Autocomplete: "new-password",
		}))
		p.Render(ctx, helpers.FormFooter(data.Error, "Signup", data.Submitting,
			"Already have an account?", login, "Login"))
		p.Raw(`</form>`)
		return p.Err()
	})
}

// openForm writes the form tag with htmx wiring and the CSRF field. The
// submit button is disabled by htmx while the request is in flight.
func openForm(p *helpers.Printer, id, action, csrfToken string) {
	p.Raw(`<form class="auth-form" method="post" novalidate`)
	p.Attr("id", id)
	p.Attr("action", action)
	p.Attr("hx-post", action)
	p.Raw(` hx-target="this" hx-swap="outerHTML" hx-disabled-elt="find button[type='submit']">`)
	p.Raw(`<input type="hidden"`)
	p.Attr("name", csrfField)
	p.Attr("value", csrfToken)
	p.Raw(`>`)
}
