package proxy

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/router"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// upgrader upgrades client connections. Origin policy is enforced by
// the listener's CORS handling before requests reach the proxy.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// isWebSocketUpgrade reports whether the request asks for a
// websocket upgrade (container exec, attach, log streaming).
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// serveWebSocket relays a websocket session between client and
// backend at the message level. raw is the unwrapped writer the
// upgrader hijacks; sw records the status for metrics.
func (p *Proxy) serveWebSocket(raw http.ResponseWriter, sw *util.StatusCapturingResponseWriter, r *http.Request, rule *router.Rule) {
	pl, ok := p.pools.Get(rule.Pool)
	if !ok {
		p.respondError(sw, r, util.NewUnavailableError(rule.Pool))
		return
	}

	inst, err := pl.Acquire()
	if err != nil {
		p.respondError(sw, r, err)
		return
	}
	defer pl.Release(inst)

	scheme := "ws"
	if pl.Scheme() == "https" {
		scheme = "wss"
	}
	backendURL := scheme + "://" + inst.Address + r.URL.Path
	if r.URL.RawQuery != "" {
		backendURL += "?" + r.URL.RawQuery
	}

	dialer := websocket.Dialer{}
	backendConn, resp, err := dialer.DialContext(r.Context(), backendURL, forwardableHeaders(r))
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		p.logger.Warn("websocket backend dial failed",
			observability.String("pool", pl.Name()),
			observability.String("instance", inst.Address),
			observability.Error(err),
		)
		p.respondError(sw, r, util.NewBackendError(pl.Name(), inst.Address, "websocket dial failed", err))
		return
	}
	defer backendConn.Close()

	clientConn, err := upgrader.Upgrade(raw, r, nil)
	if err != nil {
		// Upgrade already wrote its own error response.
		p.logger.Debug("websocket client upgrade failed", observability.Error(err))
		return
	}
	defer clientConn.Close()

	sw.StatusCode = http.StatusSwitchingProtocols

	p.relayWebSocket(clientConn, backendConn)
}

// relayWebSocket copies messages both ways until either side closes.
func (p *Proxy) relayWebSocket(clientConn, backendConn *websocket.Conn) {
	errCh := make(chan error, 2)

	copyMessages := func(dst, src *websocket.Conn) {
		for {
			msgType, msg, err := src.ReadMessage()
			if err != nil {
				_ = dst.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				errCh <- err
				return
			}
			if err := dst.WriteMessage(msgType, msg); err != nil {
				errCh <- err
				return
			}
		}
	}

	go copyMessages(clientConn, backendConn)
	go copyMessages(backendConn, clientConn)

	<-errCh
}

// forwardableHeaders strips websocket handshake and hop-by-hop
// headers the dialer manages itself.
func forwardableHeaders(r *http.Request) http.Header {
	header := http.Header{}
	for k, vv := range r.Header {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-key",
			"sec-websocket-version", "sec-websocket-extensions",
			"sec-websocket-protocol":
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	return header
}
