// Package markup holds content-type heuristics shared by the cache and the
// extraction gateway.
package markup

import (
	"bytes"
	"strings"
)

// sniffLen bounds how much of a payload is inspected.
const sniffLen = 1024

var htmlMarkers = [][]byte{
	[]byte("<!doctype html"),
	[]byte("<html"),
	[]byte("<head"),
	[]byte("<body"),
	[]byte("<meta "),
	[]byte("<script"),
}

// LooksLikeHTML reports whether content is an HTML document rather than a
// lightweight rendering. Markdown may embed inline tags, so only document
// level markers count.
func LooksLikeHTML(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	head := []byte(trimmed)
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	head = bytes.ToLower(head)
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	for _, marker := range htmlMarkers {
		if bytes.Contains(head, marker) {
			return true
		}
	}
	return false
}

// IsMarkdownContentType reports whether a response Content-Type already
// carries a lightweight rendering.
func IsMarkdownContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/markdown") || strings.HasPrefix(ct, "text/plain")
}
