package api

import "crypto/subtle"

// tokenValid compares a supplied capability token against the instance's
// private session token in constant time. Every endpoint validates before
// touching any state.
func tokenValid(supplied, expected string) bool {
	if supplied == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}
