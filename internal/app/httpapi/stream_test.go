package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/cardverse/token_layer/internal/middleware"
	"github.com/cardverse/token_layer/pkg/logger"
)

func TestStreamTransactions(t *testing.T) {
	handler, application := newTestHandler(t)
	alice := signup(t, handler, "alice@example.com", "alice")
	bob := signup(t, handler, "bob@example.com", "bob")

	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/transactions?token=" + alice.token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for application.Events.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if application.Events.Subscribers() == 0 {
		t.Fatalf("stream never subscribed")
	}

	// A transaction between other parties must not reach alice.
	carol := signup(t, handler, "carol@example.com", "carol")
	if resp := do(t, handler, http.MethodPost, "/api/v1/tokens/transfer", bob.token, map[string]any{"to_user_id": carol.id, "amount": 1}); resp.Code != http.StatusCreated {
		t.Fatalf("unrelated transfer failed: %d", resp.Code)
	}
	if resp := do(t, handler, http.MethodPost, "/api/v1/tokens/transfer", bob.token, map[string]any{"to_user_id": alice.id, "amount": 2}); resp.Code != http.StatusCreated {
		t.Fatalf("transfer failed: %d", resp.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if gjson.GetBytes(msg, "to_user_id").String() != alice.id || gjson.GetBytes(msg, "amount").Int() != 2 {
		t.Fatalf("unexpected stream event %s", string(msg))
	}
}

func TestStreamRequiresToken(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/transactions"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestStreamChecksOrigin(t *testing.T) {
	application := newTestApp(t)
	handler := NewHandler(application, Options{
		Issuer:      middleware.NewTokenIssuer(testSecret, time.Hour),
		CORSOrigins: []string{"https://app.example.com"},
		Log:         logger.NewNop(),
	})
	alice := signup(t, handler, "alice@example.com", "alice")

	server := httptest.NewServer(handler)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/transactions?token=" + alice.token

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example.net"}})
	if err == nil {
		t.Fatalf("expected a foreign origin to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://app.example.com"}})
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
}
