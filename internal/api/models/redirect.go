package models

// RedirectResponse is the body of a resolved short link.
type RedirectResponse struct {
	RedirectedURL string `json:"redirectedUrl"`
}
