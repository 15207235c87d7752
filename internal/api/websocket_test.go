package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"novelverse/internal/auth"
	"novelverse/internal/logging"
)

func TestActivityFeedBroadcast(t *testing.T) {
	hash, err := auth.HashOperatorToken(testOperatorToken)
	if err != nil {
		t.Fatalf("HashOperatorToken() error = %v", err)
	}
	logger := logging.NewLogger("api-test", logging.ERROR, io.Discard)
	srv := NewServer(emptyStore(), &fakeChat{}, &fakeStory{}, &fakeIndexer{}, Config{AdminTokenHash: hash}, logger)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/activity"
	header := http.Header{"Authorization": []string{"Bearer " + testOperatorToken}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// Give the hub a moment to register the connection.
	time.Sleep(50 * time.Millisecond)
	srv.Hub().Publish("chapter_imported", "Chapter 1 of novel n1 imported")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var event map[string]string
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if event["type"] != "chapter_imported" {
		t.Errorf("event type = %q, want chapter_imported", event["type"])
	}
	if event["message"] == "" {
		t.Error("event message is empty")
	}
}

func TestActivityFeedRejectsWithoutToken(t *testing.T) {
	mux := newTestMux(t, emptyStore(), &fakeChat{}, &fakeStory{}, &fakeIndexer{})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/activity"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Dial() succeeded without operator token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %+v, want 401", resp)
	}
}
