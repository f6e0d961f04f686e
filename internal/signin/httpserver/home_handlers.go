package httpserver

import (
	"net/http"

	"github.com/a-h/templ"

	custommw "finitefield.org/hanko-signin/internal/signin/httpserver/middleware"
	"finitefield.org/hanko-signin/internal/signin/templates/home"
)

// HomeHandler renders the landing screen for the authenticated user.
func HomeHandler(w http.ResponseWriter, r *http.Request) {
	data := home.PageData{
		CSRFToken:  custommw.CSRFTokenFromContext(r.Context()),
		LogoutPath: logoutPath,
	}
	if user, ok := custommw.UserFromContext(r.Context()); ok {
		data.DisplayName = user.DisplayName
		data.Email = user.Email
	}
	templ.Handler(home.Page(data)).ServeHTTP(w, r)
}
