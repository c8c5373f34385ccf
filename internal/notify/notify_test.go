package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendPostsPayload(t *testing.T) {
	var got pushPayload
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	err := client.Send(context.Background(), "user-1", Notification{
		Title: "Pins ready",
		Body:  "10 pins generated",
		URL:   "/runs/abc",
		Tag:   "run-completed",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "user-1" || got.Title != "Pins ready" || got.Tag != "run-completed" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header %q", gotAuth)
	}
}

func TestSendNoEndpointIsNoop(t *testing.T) {
	client := NewClient("", "")
	if err := client.Send(context.Background(), "user-1", Notification{Title: "x"}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestSendErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if err := client.Send(context.Background(), "user-1", Notification{Title: "x"}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
