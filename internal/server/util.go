package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

// normalizeBasePath turns a mount prefix into "" or "/a/b" form.
func normalizeBasePath(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

const maxServiceName = 64

// validServiceName accepts names made of [A-Za-z0-9._-], at most
// maxServiceName long. ".." is rejected so a name never reads as a path.
func validServiceName(s string) bool {
	if s == "" || len(s) > maxServiceName || strings.Contains(s, "..") {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '.', r == '_', r == '-':
			return false
		}
		return true
	}) < 0
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
