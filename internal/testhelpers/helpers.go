// Package testhelpers provides common utilities and helper functions for testing the formsync server.
//
// This package contains reusable test utilities that are shared across package tests.
// It provides functions for creating test servers, dialing share-token WebSocket sessions,
// exchanging protocol messages, and asserting response properties.
package testhelpers

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that is closed when the test ends.
func CreateTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request with a 5-second timeout,
// failing the test if the request cannot be made.
func MakeRequest(t *testing.T, method, target string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, target, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// WebSocketURL converts an httptest server URL into the ws:// URL of the
// sync endpoint for shareToken. An empty token omits the parameter.
func WebSocketURL(serverURL, shareToken string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if shareToken == "" {
		return u
	}
	return u + "?share_token=" + url.QueryEscape(shareToken)
}

// ConnectWebSocket dials the given URL with TestOrigin. The handshake
// response is returned so callers can inspect refusals.
func ConnectWebSocket(target string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(target, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials the sync endpoint for shareToken and closes the
// connection when the test ends.
func MustConnect(t *testing.T, serverURL, shareToken string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(WebSocketURL(serverURL, shareToken))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendJoin sends a join message.
func SendJoin(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": "join", "username": username}); err != nil {
		t.Fatalf("Failed to send join: %v", err)
	}
}

// SendUpdate sends an update message.
func SendUpdate(t *testing.T, conn *websocket.Conn, fieldID string, value any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": "update", "field_id": fieldID, "value": value}); err != nil {
		t.Fatalf("Failed to send update: %v", err)
	}
}

// ReceiveMessage reads one JSON message, failing the test after 2 seconds.
func ReceiveMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var message map[string]any
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return message
}

// ExpectMessage reads one message and checks its type and string fields.
func ExpectMessage(t *testing.T, conn *websocket.Conn, msgType string, fields map[string]string) map[string]any {
	t.Helper()
	message := ReceiveMessage(t, conn)
	if message["type"] != msgType {
		t.Fatalf("Expected message type %q, got %v", msgType, message)
	}
	for key, want := range fields {
		if got, _ := message[key].(string); got != want {
			t.Errorf("Expected %s=%q, got %v", key, want, message[key])
		}
	}
	return message
}

// ExpectNoMessage asserts that nothing arrives within timeout. A timed-out
// gorilla connection is unusable, so this must be the last read on conn.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, got %s", data)
	}
}

// ExpectClosed asserts that the server closes the connection within 2 seconds.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err == nil {
			t.Logf("Discarding message before close: %s", data)
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("Expected connection to be closed by server, but it stayed open")
		}
		return
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
