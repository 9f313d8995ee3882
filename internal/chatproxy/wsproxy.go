package chatproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var wsUpgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWebSocket proxies a bidirectional chat session, per section 4.5's
// WebSocket path: two independent pump tasks joined by a cancellation
// scope, auth injection on client->upstream control requests, and avatar
// rewriting on upstream->client frames.
func (p *Proxy) HandleWebSocket(c *gin.Context) {
	slug := c.Param("slug")
	rest := strings.TrimPrefix(c.Param("rest"), "/")

	up, ok := p.registry.Lookup(slug)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": gin.H{"errors": []string{"unknown chat proxy slug: " + slug}}})
		return
	}

	clientConn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		p.log.WithError(err).Warn("client websocket upgrade failed")
		return
	}
	defer clientConn.Close()

	upstreamURL := "ws://" + trimScheme(up.UpstreamBaseURL) + "/" + rest
	if q := c.Request.URL.RawQuery; q != "" {
		upstreamURL += "?" + q
	}

	header := http.Header{}
	if auth := p.registry.AuthHeader(up); auth != "" {
		header.Set("Authorization", auth)
	}
	header.Set("Origin", normalizeOrigin(up.UpstreamBaseURL, c.Request.Header.Get("Origin")))

	upstreamConn, resp, err := gorillaws.DefaultDialer.Dial(upstreamURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		closeWithCode(clientConn, gorillaws.CloseInternalServerErr, "upstream dial failed")
		return
	}
	defer upstreamConn.Close()

	queryKeys := sortedQueryKeys(c.Request.URL.Query())
	path := "/chat/" + slug + "/" + rest
	token := up.UpstreamToken

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	go func() {
		// Closing both sockets unblocks whichever pump is still reading once
		// the other has ended.
		<-gctx.Done()
		clientConn.Close()
		upstreamConn.Close()
	}()
	g.Go(func() error { return pumpClientToUpstream(gctx, clientConn, upstreamConn, token, p, path, queryKeys) })
	g.Go(func() error { return pumpUpstreamToClient(gctx, upstreamConn, clientConn, slug, p, path, queryKeys) })

	if err := g.Wait(); err != nil {
		p.log.WithError(err).Debug("chat proxy websocket pump ended")
	}
}

func trimScheme(base string) string {
	base = strings.TrimPrefix(base, "https://")
	base = strings.TrimPrefix(base, "http://")
	return strings.TrimRight(base, "/")
}

// normalizeOrigin rewrites a 127.0.0.1 upstream host's Origin to localhost
// (some chat containers only recognise localhost in CORS checks), and
// otherwise passes through the client's Origin for a remote upstream host,
// per SPEC_FULL.md supplement 5.
func normalizeOrigin(upstreamBase, clientOrigin string) string {
	host := trimScheme(upstreamBase)
	if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}
	hostOnly := host
	if idx := strings.LastIndex(hostOnly, ":"); idx >= 0 {
		hostOnly = hostOnly[:idx]
	}
	switch hostOnly {
	case "127.0.0.1":
		return "http://localhost"
	case "localhost":
		return "http://localhost"
	default:
		return clientOrigin
	}
}

func pumpClientToUpstream(ctx context.Context, client, upstream *gorillaws.Conn, token string, p *Proxy, path string, queryKeys []string) error {
	for {
		msgType, data, err := client.ReadMessage()
		if err != nil {
			return err
		}
		if msgType == gorillaws.TextMessage {
			data = injectAuthIfControlRequest(data, token)
			p.emitEvent(ctx, "chat.message.sent", map[string]any{
				"method": "WS", "path": path, "query_keys": queryKeys,
				"is_ws_upgrade": true, "content_length": len(data),
			})
		}
		if err := upstream.WriteMessage(msgType, data); err != nil {
			return err
		}
	}
}

func pumpUpstreamToClient(ctx context.Context, upstream, client *gorillaws.Conn, slug string, p *Proxy, path string, queryKeys []string) error {
	for {
		msgType, data, err := upstream.ReadMessage()
		if err != nil {
			return err
		}
		if msgType == gorillaws.TextMessage && strings.Contains(string(data), "/avatar/") {
			data = rewriteAvatarFrame(data, slug)
		}
		if msgType == gorillaws.TextMessage {
			p.emitEvent(ctx, "chat.message.received", map[string]any{
				"method": "WS", "path": path, "query_keys": queryKeys,
				"is_ws_upgrade": true, "status_code": http.StatusSwitchingProtocols,
			})
		}
		if err := client.WriteMessage(msgType, data); err != nil {
			return err
		}
	}
}

// injectAuthIfControlRequest merges {auth:{token}} into params when the
// client frame looks like {"type":"req","method":"connect","params":{...}}
// and doesn't already carry its own auth, per section 4.5 rule 3.
func injectAuthIfControlRequest(data []byte, token string) []byte {
	if token == "" {
		return data
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return data
	}
	if msg["type"] != "req" || msg["method"] != "connect" {
		return data
	}
	params, ok := msg["params"].(map[string]any)
	if !ok {
		params = map[string]any{}
	}
	if _, hasAuth := params["auth"]; hasAuth {
		return data
	}
	params["auth"] = map[string]any{"token": token}
	msg["params"] = params
	out, err := json.Marshal(msg)
	if err != nil {
		return data
	}
	return out
}

func rewriteAvatarFrame(data []byte, slug string) []byte {
	var msg any
	if err := json.Unmarshal(data, &msg); err != nil {
		return data
	}
	out, err := json.Marshal(rewriteAvatarPaths(msg, slug))
	if err != nil {
		return data
	}
	return out
}

func closeWithCode(conn *gorillaws.Conn, code int, reason string) {
	_ = conn.WriteControl(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
