package domain

import (
	"regexp"
	"strings"
	"time"
)

// Project statuses. A project only ever moves forward from draft to deployed.
const (
	StatusDraft    = "draft"
	StatusDeployed = "deployed"
)

// Supported backend types.
const (
	TypeJSON     = "json"
	TypeOpenAPI  = "openapi"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

var projectTypes = map[string]struct{}{
	TypeJSON:     {},
	TypeOpenAPI:  {},
	TypePostgres: {},
	TypeMySQL:    {},
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Project describes a registered MCP backend instance.
type Project struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	MountPath    string     `json:"mountPath"`
	TokenEnvName string     `json:"tokenEnvName"`
	SourceURL    string     `json:"sourceUrl,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastDeployAt *time.Time `json:"lastDeployAt,omitempty"`
	HostPort     *int       `json:"hostPort,omitempty"`
	ProxyChanged *bool      `json:"proxyChanged,omitempty"`
}

// SourceMeta records the provenance of a project's resolved data payload.
type SourceMeta struct {
	Source       string    `json:"source"`
	SourceURL    string    `json:"sourceUrl,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt"`
	HTTPStatus   *int      `json:"httpStatus,omitempty"`
	ByteSize     int       `json:"byteSize"`
	ContentHash  string    `json:"contentHash"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
}

// SourceMeta provenance values.
const (
	SourceURLFetch = "url"
	SourceInline   = "inline"
	SourceEmpty    = "empty"
)

// ValidProjectID reports whether id matches the required identifier pattern.
func ValidProjectID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidProjectType reports whether t is one of the supported backend types.
func ValidProjectType(t string) bool {
	_, ok := projectTypes[t]
	return ok
}

// DefaultMountPath returns the mount path used when the caller supplies none.
func DefaultMountPath(id string) string {
	return "/p/" + id + "/mcp"
}

// TokenEnvName derives the environment variable name holding a project's
// bearer token. Non-alphanumeric runs collapse to a single underscore, so
// distinct ids stay distinct up to that collapsing.
func TokenEnvName(id string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToUpper(id) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return "MCP_" + b.String() + "_BEARER_TOKEN"
}
