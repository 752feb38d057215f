package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTelegram_Name(t *testing.T) {
	tg, err := New("token", "chatid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tg.Name() != "telegram" {
		t.Errorf("expected 'telegram', got '%s'", tg.Name())
	}
}

func TestTelegram_New_MissingCredentials(t *testing.T) {
	if _, err := New("", "chat"); err == nil {
		t.Error("expected error for missing bot_token")
	}
	if _, err := New("token", ""); err == nil {
		t.Error("expected error for missing chat_id")
	}
}

func TestTelegram_Notify(t *testing.T) {
	var gotPath string
	var payload map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	tg, err := New("test-token", "12345", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := tg.Notify(context.Background(), "BUY 0.25 @ 2000.00"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if payload["chat_id"] != "12345" {
		t.Errorf("expected chat_id 12345, got %v", payload["chat_id"])
	}
	if payload["text"] != "BUY 0.25 @ 2000.00" {
		t.Errorf("unexpected text %v", payload["text"])
	}
}

func TestTelegram_Notify_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	tg, _ := New("token", "chat", WithBaseURL(srv.URL))
	err := tg.Notify(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
}
