package sasl

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPAuthenticator verifies PLAIN/LOGIN credentials against an external
// HTTP auth endpoint, ported from the teacher's Dovecot-auth-socket
// bridge (internal/sasl/server.go authenticate), which POSTs a JSON
// credential pair and treats HTTP 200 as success. CRAM-MD5 cannot use
// this verifier (it never has the plaintext password to forward) and
// instead uses the database-backed Verifier in internal/sasl/crammd5.go.
type HTTPAuthenticator struct {
	URL    string
	Domain string
	Client *http.Client
}

// NewHTTPAuthenticator builds a verifier posting to url; domain qualifies
// bare usernames that don't already contain "@".
func NewHTTPAuthenticator(url, domain string) *HTTPAuthenticator {
	return &HTTPAuthenticator{
		URL:    url,
		Domain: domain,
		Client: &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
			Timeout:   10 * time.Second,
		},
	}
}

// Verify implements PlainVerifier: authzid is ignored (this bridge has no
// notion of proxy authorization), authcid/password are forwarded as-is.
func (a *HTTPAuthenticator) Verify(_, authcid, password string) error {
	email := authcid
	if !strings.Contains(email, "@") {
		email = email + "@" + a.Domain
	}

	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	req, err := http.NewRequest(http.MethodPost, a.URL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("sasl: build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sasl: auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sasl: invalid credentials for %s", email)
	}
	return nil
}
