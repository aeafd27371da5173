package httpx

import "crypto/tls"

// insecureTLSConfig disables certificate verification. Used only when a
// caller explicitly opts in via WithInsecureTLS, for testing against
// self-signed mirrors.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in testing knob
}
