package session

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

// CSRFHeader carries the double-submit token on mutating requests.
const CSRFHeader = "X-CSRF-Token"

// ReadCSRFToken returns the token supplied by the client.
func ReadCSRFToken(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(CSRFHeader))
}

// VerifyCSRFToken compares the supplied token with the session token in
// constant time.
func VerifyCSRFToken(supplied, expected string) bool {
	if supplied == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}
