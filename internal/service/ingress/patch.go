package ingress

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/justadm/justgpt-control-plane/internal/domain"
)

// catchAllAnchor is the fallback location inside the managed server block;
// new routes are inserted immediately before it.
const catchAllAnchor = "location / {"

// EnsureRoute is a pure text merge: given the current proxy configuration,
// it returns the configuration with a location block for mountPath proxying
// to 127.0.0.1:hostPort, and whether anything changed. A block for the mount
// path already present anywhere means no change. The server block is located
// by its server_name marker and the insertion point is the catch-all
// location inside it; a missing marker or anchor is fatal and the text is
// returned unmodified.
func EnsureRoute(conf, serverName, mountPath string, hostPort int) (string, bool, error) {
	exists := regexp.MustCompile(`(?m)^\s*location\s+` + regexp.QuoteMeta(mountPath) + `\s*\{`)
	if exists.MatchString(conf) {
		return conf, false, nil
	}

	marker := "server_name " + serverName + ";"
	markerIdx := strings.Index(conf, marker)
	if markerIdx < 0 {
		return conf, false, fmt.Errorf("proxy block marker %q not found: %w", marker, domain.ErrConfiguration)
	}
	blockEnd := serverBlockEnd(conf, markerIdx+len(marker))
	if blockEnd < 0 {
		return conf, false, fmt.Errorf("server block for marker %q is not closed: %w", marker, domain.ErrConfiguration)
	}
	anchorIdx := strings.Index(conf[markerIdx:blockEnd], catchAllAnchor)
	if anchorIdx < 0 {
		return conf, false, fmt.Errorf("insertion point %q not found inside server block %q: %w", catchAllAnchor, marker, domain.ErrConfiguration)
	}
	anchorIdx += markerIdx

	lineStart := strings.LastIndexByte(conf[:anchorIdx], '\n') + 1
	indent := conf[lineStart:anchorIdx]
	if strings.TrimSpace(indent) != "" {
		indent = ""
	}

	block := routeBlock(mountPath, hostPort, indent)
	return conf[:lineStart] + block + conf[lineStart:], true, nil
}

// serverBlockEnd returns the index of the closing brace of the server block
// containing position start (which sits after the block's opening brace), or
// -1 when the block never closes. Nested location braces are tracked by
// depth.
func serverBlockEnd(conf string, start int) int {
	depth := 0
	for i := start; i < len(conf); i++ {
		switch conf[i] {
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

func routeBlock(mountPath string, hostPort int, indent string) string {
	inner := indent + "    "
	var b strings.Builder
	b.WriteString(indent + "location " + mountPath + " {\n")
	b.WriteString(inner + fmt.Sprintf("proxy_pass http://127.0.0.1:%d;\n", hostPort))
	b.WriteString(inner + "proxy_http_version 1.1;\n")
	b.WriteString(inner + "proxy_set_header Host $host;\n")
	b.WriteString(inner + "proxy_set_header X-Forwarded-Proto $scheme;\n")
	b.WriteString(inner + "proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	// Cleared so upgrade-capable backends negotiate their own Connection.
	b.WriteString(inner + "proxy_set_header Connection \"\";\n")
	b.WriteString(indent + "}\n\n")
	return b.String()
}
