package ingress

import (
	"errors"
	"strings"
	"testing"

	"github.com/justadm/justgpt-control-plane/internal/domain"
)

const testConf = `server {
    listen 80;
    server_name mcp.local;

    location /static/ {
        root /var/www;
    }

    location / {
        return 404;
    }
}
`

func TestEnsureRouteInsertsBeforeCatchAll(t *testing.T) {
	patched, changed, err := EnsureRoute(testConf, "mcp.local", "/p/demo/mcp", 49152)
	if err != nil {
		t.Fatalf("ensureRoute: %v", err)
	}
	if !changed {
		t.Fatal("expected change on first insertion")
	}
	for _, want := range []string{
		"location /p/demo/mcp {",
		"proxy_pass http://127.0.0.1:49152;",
		"proxy_set_header Host $host;",
		"proxy_set_header X-Forwarded-Proto $scheme;",
		"proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;",
		`proxy_set_header Connection "";`,
	} {
		if !strings.Contains(patched, want) {
			t.Errorf("patched config missing %q", want)
		}
	}
	if strings.Index(patched, "location /p/demo/mcp {") > strings.Index(patched, "location / {") {
		t.Error("route must be inserted before the catch-all location")
	}
}

func TestEnsureRouteIdempotent(t *testing.T) {
	first, changed, err := EnsureRoute(testConf, "mcp.local", "/p/demo/mcp", 49152)
	if err != nil || !changed {
		t.Fatalf("first pass: changed=%v err=%v", changed, err)
	}
	second, changed, err := EnsureRoute(first, "mcp.local", "/p/demo/mcp", 49152)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if changed {
		t.Error("second pass must report no change")
	}
	if first != second {
		t.Error("second pass must leave the text byte-identical")
	}
}

func TestEnsureRouteMissingMarker(t *testing.T) {
	_, changed, err := EnsureRoute(testConf, "other.host", "/p/demo/mcp", 49152)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if changed {
		t.Error("no change may be reported on failure")
	}
}

func TestEnsureRouteMissingAnchor(t *testing.T) {
	conf := "server {\n    server_name mcp.local;\n}\n"
	_, _, err := EnsureRoute(conf, "mcp.local", "/p/demo/mcp", 49152)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

const twoServerConf = `server {
    listen 80;
    server_name mcp.local;

    location /static/ {
        root /var/www;
    }
}

server {
    listen 80;
    server_name other.example;

    location / {
        return 404;
    }
}
`

func TestEnsureRouteAnchorMustBeInsideMarkedBlock(t *testing.T) {
	// The marked block has no catch-all; a later server block does. The
	// patch must fail rather than splice the route into the wrong block.
	patched, changed, err := EnsureRoute(twoServerConf, "mcp.local", "/p/demo/mcp", 49152)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if changed {
		t.Error("no change may be reported on failure")
	}
	if patched != twoServerConf {
		t.Error("text must be returned unmodified on failure")
	}
}

func TestEnsureRouteIgnoresLaterServerBlocks(t *testing.T) {
	conf := `server {
    listen 80;
    server_name mcp.local;

    location / {
        return 404;
    }
}

server {
    listen 80;
    server_name other.example;

    location / {
        return 404;
    }
}
`
	patched, changed, err := EnsureRoute(conf, "mcp.local", "/p/demo/mcp", 49152)
	if err != nil {
		t.Fatalf("ensureRoute: %v", err)
	}
	if !changed {
		t.Fatal("expected change")
	}
	routeIdx := strings.Index(patched, "location /p/demo/mcp {")
	otherIdx := strings.Index(patched, "server_name other.example;")
	if routeIdx < 0 || otherIdx < 0 || routeIdx > otherIdx {
		t.Errorf("route must land in the marked block, before the next server block (route=%d other=%d)", routeIdx, otherIdx)
	}
}

func TestEnsureRouteDistinctPaths(t *testing.T) {
	first, _, err := EnsureRoute(testConf, "mcp.local", "/p/demo/mcp", 49152)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, changed, err := EnsureRoute(first, "mcp.local", "/p/other/mcp", 49200)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !changed {
		t.Error("a different mount path must insert a new block")
	}
	if !strings.Contains(second, "location /p/demo/mcp {") || !strings.Contains(second, "location /p/other/mcp {") {
		t.Error("both routes must be present")
	}
}
