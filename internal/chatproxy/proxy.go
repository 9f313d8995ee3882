// Package chatproxy implements the Chat Proxy (component C6): a same-origin
// HTTP + WebSocket reverse proxy that injects per-agent credentials,
// rewrites HTML/avatar paths, and emits synthetic ingestion events from
// observed traffic.
package chatproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/missioncontrol/core/internal/common/apperr"
	"github.com/missioncontrol/core/internal/common/logger"
	"github.com/missioncontrol/core/internal/ingest"
)

const httpTimeout = 20 * time.Second

var hopByHopRequestHeaders = map[string]bool{
	"host":           true,
	"content-length": true,
	"connection":     true,
}

var hopByHopResponseHeaders = map[string]bool{
	"content-length":          true,
	"transfer-encoding":       true,
	"content-encoding":        true,
	"connection":              true,
	"x-frame-options":         true,
	"content-security-policy": true,
}

// Proxy is the HTTP half of the Chat Proxy.
type Proxy struct {
	registry *Registry
	ingestor *ingest.Ingestor
	client   *http.Client
	log      *logger.Logger
}

func New(registry *Registry, ig *ingest.Ingestor, log *logger.Logger) *Proxy {
	return &Proxy{
		registry: registry,
		ingestor: ig,
		client:   &http.Client{Timeout: httpTimeout},
		log:      log.WithFields(zap.String("component", "chatproxy")),
	}
}

// HandleHTTP serves ANY /chat/:slug/*rest.
func (p *Proxy) HandleHTTP(c *gin.Context) {
	slug := c.Param("slug")
	rest := strings.TrimPrefix(c.Param("rest"), "/")

	up, ok := p.registry.Lookup(slug)
	if !ok {
		c.JSON(http.StatusNotFound, apperr.NewDetailBody([]string{"unknown chat proxy slug: " + slug}))
		return
	}

	isAvatar := strings.HasPrefix(rest, "avatar/")
	isMeta := c.Query("meta") == "1"
	queryKeys := sortedQueryKeys(c.Request.URL.Query())
	nonGet := c.Request.Method != http.MethodGet

	if nonGet {
		p.emitEvent(c.Request.Context(), "chat.message.sent", map[string]any{
			"method":         c.Request.Method,
			"path":           "/chat/" + slug + "/" + rest,
			"query_keys":     queryKeys,
			"is_ws_upgrade":  false,
			"content_length": c.Request.ContentLength,
		})
	}

	upstreamURL := strings.TrimRight(up.UpstreamBaseURL, "/") + "/" + rest
	if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
		upstreamURL += "?" + rawQuery
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if nonGet {
			p.emitProxyError(c.Request.Context(), c.Request.Method, slug, rest, queryKeys, "request_read_failed")
		}
		c.JSON(http.StatusBadGateway, apperr.NewDetailBody([]string{"Upstream unavailable: request_read_failed"}))
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		if nonGet {
			p.emitProxyError(c.Request.Context(), c.Request.Method, slug, rest, queryKeys, "request_build_failed")
		}
		c.JSON(http.StatusBadGateway, apperr.NewDetailBody([]string{"Upstream unavailable: request_build_failed"}))
		return
	}
	copyRequestHeaders(req, c.Request.Header)
	if auth := p.registry.AuthHeader(up); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if nonGet {
			p.emitProxyError(c.Request.Context(), c.Request.Method, slug, rest, queryKeys, "transport_error")
		}
		c.JSON(http.StatusBadGateway, apperr.NewDetailBody([]string{"Upstream unavailable: transport_error"}))
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if nonGet {
			p.emitProxyError(c.Request.Context(), c.Request.Method, slug, rest, queryKeys, "response_read_failed")
		}
		c.JSON(http.StatusBadGateway, apperr.NewDetailBody([]string{"Upstream unavailable: response_read_failed"}))
		return
	}

	status := resp.StatusCode
	if isAvatar && !isMeta && status == http.StatusNotFound {
		respBody = placeholderAvatarSVG(slug)
		status = http.StatusOK
		resp.Header.Set("Content-Type", "image/svg+xml")
	} else if isAvatar && isMeta && status == http.StatusOK && isJSONContentType(resp.Header.Get("Content-Type")) {
		respBody = p.rewriteAvatarMeta(respBody, slug, c.Request.URL.RawQuery)
	} else if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		gatewayURL := gatewayURLFor(c, slug)
		respBody = injectChatProxyScript(respBody, slug, gatewayURL, up.UpstreamToken)
	}

	copyResponseHeaders(c.Writer.Header(), resp.Header)
	rewriteLocation(c.Writer.Header(), up.UpstreamBaseURL, slug)
	c.Writer.Header().Set("Content-Length", strconv.Itoa(len(respBody)))
	c.Status(status)
	c.Writer.Write(respBody)

	if nonGet {
		p.emitEvent(c.Request.Context(), "chat.message.received", map[string]any{
			"method":        c.Request.Method,
			"path":          "/chat/" + slug + "/" + rest,
			"query_keys":    queryKeys,
			"is_ws_upgrade": false,
			"status_code":   status,
		})
	}
}

func (p *Proxy) rewriteAvatarMeta(body []byte, slug, rawQuery string) []byte {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body
	}
	avatarURL, ok := parsed["avatarUrl"].(string)
	if !ok || !strings.HasPrefix(avatarURL, "/avatar/") {
		return body
	}
	rewritten := rewriteAvatarPaths(parsed, slug).(map[string]any)
	if rawQuery != "" {
		if s, ok := rewritten["avatarUrl"].(string); ok {
			rewritten["avatarUrl"] = s + "?" + rawQuery
		}
	}
	out, err := json.Marshal(rewritten)
	if err != nil {
		return body
	}
	return out
}

func gatewayURLFor(c *gin.Context, slug string) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + "/chat/" + slug + "/"
}

func copyRequestHeaders(req *http.Request, src http.Header) {
	for key, values := range src {
		if hopByHopRequestHeaders[strings.ToLower(key)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopResponseHeaders[strings.ToLower(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// rewriteLocation implements section 4.5 rule 5: a Location header
// beginning with the upstream base is rewritten to /chat/{slug}; one
// beginning with "/" is prefixed with /chat/{slug}.
func rewriteLocation(h http.Header, upstreamBase, slug string) {
	loc := h.Get("Location")
	if loc == "" {
		return
	}
	prefix := "/chat/" + slug
	switch {
	case strings.HasPrefix(loc, upstreamBase):
		h.Set("Location", prefix+strings.TrimPrefix(loc, upstreamBase))
	case strings.HasPrefix(loc, "/"):
		h.Set("Location", prefix+loc)
	}
}

func isJSONContentType(ct string) bool {
	return strings.Contains(ct, "application/json")
}

func sortedQueryKeys(q map[string][]string) []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Proxy) emitEvent(ctx context.Context, eventType string, payload map[string]any) {
	if _, err := p.ingestor.Ingest(ctx, ingest.EventIn{Type: eventType, Payload: payload}); err != nil {
		p.log.WithError(err).Warn("failed to record synthetic chat proxy event", zap.String("event_type", eventType))
	}
}

func (p *Proxy) emitProxyError(ctx context.Context, method, slug, rest string, queryKeys []string, errType string) {
	p.emitEvent(ctx, "chat.proxy.error", map[string]any{
		"method":     method,
		"path":       "/chat/" + slug + "/" + rest,
		"query_keys": queryKeys,
		"error_type": errType,
	})
}
