package chatproxy

import (
	"strings"

	"github.com/missioncontrol/core/internal/common/config"
)

// Registry resolves an agent slug to its upstream target and builds the
// Authorization header value the proxy injects on the upstream hop.
type Registry struct {
	agents map[string]config.AgentUpstream
	scheme string
}

func NewRegistry(agents map[string]config.AgentUpstream, scheme string) *Registry {
	if scheme == "" {
		scheme = "Bearer"
	}
	return &Registry{agents: agents, scheme: scheme}
}

func (r *Registry) Lookup(slug string) (config.AgentUpstream, bool) {
	up, ok := r.agents[slug]
	return up, ok
}

// AuthHeader builds the Authorization header value for an upstream with a
// configured token, or "" when no token is configured. If the token already
// begins with "bearer " (any case), it is used verbatim.
func (r *Registry) AuthHeader(up config.AgentUpstream) string {
	if up.UpstreamToken == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(up.UpstreamToken), "bearer ") {
		return up.UpstreamToken
	}
	return r.scheme + " " + up.UpstreamToken
}
