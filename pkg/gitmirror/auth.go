package gitmirror

import (
	"fmt"
	"net/url"

	giturls "github.com/whilp/git-urls"
)

// Auth is the closed set of credential modes the mirror understands.
// Exactly one mode is resolved from configuration at startup; the
// mirror consumes resolved credentials and never touches secret
// storage itself.
type Auth interface {
	// cloneURL returns the URL to hand to git, possibly with
	// credentials embedded.
	cloneURL(repoURL string) (string, error)
	// env returns extra environment for git child processes.
	env() []string
}

// Anonymous is unauthenticated access (public repositories, or
// transports authenticated out-of-band).
type Anonymous struct{}

func (Anonymous) cloneURL(repoURL string) (string, error) { return repoURL, nil }
func (Anonymous) env() []string                           { return nil }

// BasicAuth is HTTPS username/token access. The credentials are
// embedded in the URL git sees, the same way the original agent did
// it; they never appear in logs (see Remote.SafeURL).
type BasicAuth struct {
	User  string
	Token string
}

func (a BasicAuth) cloneURL(repoURL string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("username/token auth needs an http(s) URL, got %q", u.Scheme)
	}
	u.User = url.UserPassword(a.User, a.Token)
	return u.String(), nil
}

func (BasicAuth) env() []string { return nil }

// SSHTransport carries an externally configured ssh command
// (GIT_SSH_COMMAND), typically pointing at a mounted deploy key.
type SSHTransport struct {
	Command string
}

func (SSHTransport) cloneURL(repoURL string) (string, error) { return repoURL, nil }

func (t SSHTransport) env() []string {
	return []string{"GIT_SSH_COMMAND=" + t.Command}
}

// Remote points at the git repo to be mirrored.
type Remote struct {
	// URL is where we clone from, without credentials.
	URL string `json:"url"`
}

// SafeURL returns the remote URL with any userinfo password stripped,
// for use in logs.
func (r Remote) SafeURL() string {
	u, err := giturls.Parse(r.URL)
	if err != nil {
		return fmt.Sprintf("<unparseable: %s>", r.URL)
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
