package cliconfig

import (
	"net/url"
	"strings"
)

// UpstreamKind names the transport used to trigger ticks.
type UpstreamKind string

const (
	UpstreamIPC    UpstreamKind = "ipc"
	UpstreamEngine UpstreamKind = "engine"
)

// Upstream is a parsed tick source.
type Upstream struct {
	Kind UpstreamKind
	// Target is a socket path for UpstreamIPC and a URL for UpstreamEngine.
	Target string
}

// ParseUpstream parses "ipc:<socket path>" or an http(s) engine URL.
func ParseUpstream(s string) (Upstream, error) {
	if path, ok := strings.CutPrefix(s, "ipc:"); ok {
		if path == "" {
			return Upstream{}, invalid("upstream %q: empty socket path", s)
		}
		return Upstream{Kind: UpstreamIPC, Target: path}, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return Upstream{}, invalid("upstream %q: %v", s, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Upstream{}, invalid("upstream %q: want ipc:<path> or an http(s) URL", s)
	}
	return Upstream{Kind: UpstreamEngine, Target: strings.TrimSuffix(s, "/")}, nil
}
