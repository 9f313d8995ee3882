package chatproxy

import (
	"fmt"
	"strings"
)

// rewriteAvatarPaths recursively rewrites any string value beginning with
// "/avatar/" to "/chat/{slug}/avatar/..." through an arbitrarily nested JSON
// value (object, array, or scalar). Both the WebSocket frame rewrite and the
// HTTP avatar-meta rewrite share this one routine, per SPEC_FULL.md
// supplement 3.
func rewriteAvatarPaths(v any, slug string) any {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "/avatar/") {
			return "/chat/" + slug + val
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = rewriteAvatarPaths(child, slug)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = rewriteAvatarPaths(child, slug)
		}
		return out
	default:
		return val
	}
}

// placeholderAvatarSVG synthesises a deterministic placeholder bearing the
// uppercase first letter of slug, for GET /chat/{slug}/avatar/... requests
// when the upstream returns 404.
func placeholderAvatarSVG(slug string) []byte {
	letter := "?"
	if slug != "" {
		letter = strings.ToUpper(slug[:1])
	}
	return []byte(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="64" height="64" viewBox="0 0 64 64">`+
		`<rect width="64" height="64" rx="8" fill="#4a5568"/>`+
		`<text x="32" y="42" font-family="sans-serif" font-size="28" fill="#ffffff" text-anchor="middle">%s</text>`+
		`</svg>`, letter))
}
