package auth

// LoginPageData is the rendering state of the login screen.
type LoginPageData struct {
	Email      string
	Message    string
	Error      string
	Submitting bool
	CSRFToken  string
	Action     string
	SignupPath string
}

// SignupPageData is the rendering state of the signup screen.
type SignupPageData struct {
	Name       string
	Email      string
	Error      string
	Submitting bool
	CSRFToken  string
	Action     string
	LoginPath  string
}
