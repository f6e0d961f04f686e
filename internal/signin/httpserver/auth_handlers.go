package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	"finitefield.org/hanko-signin/internal/signin/forms"
	custommw "finitefield.org/hanko-signin/internal/signin/httpserver/middleware"
	"finitefield.org/hanko-signin/internal/signin/identity"
	"finitefield.org/hanko-signin/internal/signin/observability"
	appsession "finitefield.org/hanko-signin/internal/signin/session"
	"finitefield.org/hanko-signin/internal/signin/templates/auth"
)

const formParseError = "Could not read the submitted form, please try again"

type authHandlers struct {
	provider identity.Provider
	guard    forms.Guard
}

func newAuthHandlers(provider identity.Provider, guard forms.Guard) *authHandlers {
	if provider == nil {
		panic("auth: identity provider is required")
	}
	if guard == nil {
		panic("auth: submission guard is required")
	}
	return &authHandlers{provider: provider, guard: guard}
}

func (h *authHandlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	if isSignedIn(r) {
		http.Redirect(w, r, forms.HomePath, http.StatusFound)
		return
	}
	data := auth.LoginPageData{
		Email:     strings.TrimSpace(r.URL.Query().Get("email")),
		Message:   messageForQuery(r.URL.Query()),
		CSRFToken: custommw.CSRFTokenFromContext(r.Context()),
	}
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		data.Submitting = h.guard.Busy(r.Context(), forms.InstanceKey(sess.ID(), forms.LoginFormName))
	}
	h.renderLogin(w, r, data, http.StatusOK)
}

func (h *authHandlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := custommw.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if sess.SignedIn() {
		h.redirect(w, r, forms.HomePath)
		return
	}

	data := auth.LoginPageData{CSRFToken: custommw.CSRFTokenFromContext(r.Context())}
	if err := r.ParseForm(); err != nil {
		data.Error = formParseError
		h.renderLogin(w, r, data, http.StatusBadRequest)
		return
	}
	values := forms.LoginValues{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	data.Email = strings.TrimSpace(values.Email)

	var target string
	form := forms.NewLogin(h.provider,
		forms.NavigatorFunc(func(path string) { target = path }),
		forms.WithGuard(h.guard, forms.InstanceKey(sess.ID(), forms.LoginFormName)),
	)
	result, err := form.Submit(r.Context(), values)
	if err != nil {
		status := form.Status()
		data.Error = status.Error
		data.Submitting = status.Submitting
		h.renderLogin(w, r, data, submitStatus(err, http.StatusUnauthorized))
		return
	}

	if !h.establish(w, r, sess, result) {
		return
	}
	h.redirect(w, r, target)
}

func (h *authHandlers) SignupForm(w http.ResponseWriter, r *http.Request) {
	if isSignedIn(r) {
		http.Redirect(w, r, forms.HomePath, http.StatusFound)
		return
	}
	data := auth.SignupPageData{CSRFToken: custommw.CSRFTokenFromContext(r.Context())}
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		data.Submitting = h.guard.Busy(r.Context(), forms.InstanceKey(sess.ID(), forms.SignupFormName))
	}
	h.renderSignup(w, r, data, http.StatusOK)
}

func (h *authHandlers) SignupSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := custommw.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if sess.SignedIn() {
		h.redirect(w, r, forms.HomePath)
		return
	}

	data := auth.SignupPageData{CSRFToken: custommw.CSRFTokenFromContext(r.Context())}
	if err := r.ParseForm(); err != nil {
		data.Error = formParseError
		h.renderSignup(w, r, data, http.StatusBadRequest)
		return
	}
	values := forms.SignupValues{
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	data.Name = forms.NormalizeDisplayName(values.Name)
	data.Email = strings.TrimSpace(values.Email)

	var target string
	form := forms.NewSignup(h.provider,
		forms.NavigatorFunc(func(path string) { target = path }),
		forms.WithGuard(h.guard, forms.InstanceKey(sess.ID(), forms.SignupFormName)),
	)
	result, err := form.Submit(r.Context(), values)
	if err != nil {
		status := form.Status()
		data.Error = status.Error
		data.Submitting = status.Submitting
		h.renderSignup(w, r, data, submitStatus(err, http.StatusBadRequest))
		return
	}

	if !h.establish(w, r, sess, result) {
		return
	}
	h.redirect(w, r, target)
}

func (h *authHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		sess.Destroy()
	}
	h.redirect(w, r, loginPath+"?status=logged_out")
}

// establish stores the provider session in the cookie session.
func (h *authHandlers) establish(w http.ResponseWriter, r *http.Request, sess *appsession.Session, result *identity.Session) bool {
	user := appsession.User{
		UID:         result.UID,
		Email:       result.Email,
		DisplayName: result.DisplayName,
	}
	if err := sess.SignIn(user, result.IDToken, result.RefreshToken); err != nil {
		observability.FromContext(r.Context()).Error("session sign in failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	observability.FromContext(r.Context()).Info("user signed in", zap.String("uid", user.UID))
	return true
}

func (h *authHandlers) redirect(w http.ResponseWriter, r *http.Request, target string) {
	if target == "" {
		target = forms.HomePath
	}
	if custommw.IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *authHandlers) renderLogin(w http.ResponseWriter, r *http.Request, data auth.LoginPageData, status int) {
	component := auth.LoginPage(data)
	if custommw.IsHTMXRequest(r.Context()) {
		component = auth.LoginForm(data)
	}
	templ.Handler(component, templ.WithStatus(status)).ServeHTTP(w, r)
}

func (h *authHandlers) renderSignup(w http.ResponseWriter, r *http.Request, data auth.SignupPageData, status int) {
	component := auth.SignupPage(data)
	if custommw.IsHTMXRequest(r.Context()) {
		component = auth.SignupForm(data)
	}
	templ.Handler(component, templ.WithStatus(status)).ServeHTTP(w, r)
}

// submitStatus maps a failed submission to its response code. rejected is
// used for provider refusals that are not unexpected.
func submitStatus(err error, rejected int) int {
	switch {
	case forms.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, forms.ErrSubmitInProgress):
		return http.StatusConflict
	case identity.KindOf(err) == identity.KindUnexpected:
		return http.StatusBadGateway
	default:
		return rejected
	}
}

func isSignedIn(r *http.Request) bool {
	sess, ok := custommw.SessionFromContext(r.Context())
	return ok && sess.SignedIn()
}

func messageForQuery(q url.Values) string {
	switch q.Get("status") {
	case "logged_out":
		return "You have been logged out"
	case "expired":
		return "Your session has expired, please log in again"
	default:
		return ""
	}
}
