package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/metrics"
	"github.com/cardverse/token_layer/internal/middleware"
)

const (
	streamBuffer    = 32
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = (streamPongWait * 9) / 10
)

func newUpgrader(cors *middleware.CORSMiddleware) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return originAllowed(cors, r) },
	}
}

// originAllowed admits non-browser clients (no Origin), same-host pages and
// the configured CORS origins. Browsers do not preflight websocket
// upgrades, so this is the only origin check the stream gets.
func originAllowed(cors *middleware.CORSMiddleware, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if cors.AllowsOrigin(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// streamTransactions pushes every committed transaction touching the caller
// as a JSON text frame. Slow readers drop events instead of stalling the
// ledger.
func (h *handler) streamTransactions(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if _, err := h.app.Accounts.Get(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.StreamOpened()
	defer metrics.StreamClosed()

	outbox := make(chan ledger.Transaction, streamBuffer)
	unsubscribe := h.app.Events.SubscribeAccount(userID, func(tx ledger.Transaction) {
		select {
		case outbox <- tx:
		default:
			h.log.WithField("user_id", userID).Warn("transaction stream backlog full, dropping event")
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case tx := <-outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(tx); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
