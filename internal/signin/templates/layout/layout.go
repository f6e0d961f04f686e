package layout

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"finitefield.org/hanko-signin/internal/signin/templates/helpers"
)

const htmxSrc = "https://unpkg.com/htmx.org@2.0.4"

// Failed submissions answer 4xx/5xx with a form fragment that must still be
// swapped in.
const htmxConfig = `{"responseHandling":[{"code":"204","swap":false},{"code":"[23]..","swap":true},{"code":"[45]..","swap":true,"error":true}]}`

// Page wraps body in the HTML document shell.
func Page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := helpers.NewPrinter(w)
		p.Raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.Raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.Raw(`<meta name="htmx-config"`)
		p.Attr("content", htmxConfig)
		p.Raw(`>`)
		p.Raw(`<title>`)
		p.Text(title)
		p.Raw(`</title><link rel="stylesheet" href="/public/static/app.css">`)
		p.Raw(`<script defer`)
		p.Attr("src", htmxSrc)
		p.Raw(`></script></head><body><main class="container"><div class="inner-box">`)
		p.Render(ctx, body)
		p.Raw(`</div></main></body></html>`)
		return p.Err()
	})
}
