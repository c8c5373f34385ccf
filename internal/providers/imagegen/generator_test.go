package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pinforge/internal/domain"
)

func testOptions(serverURL string) Options {
	return Options{
		HTTPClient:      &http.Client{Timeout: 5 * time.Second},
		Logger:          zerolog.New(io.Discard),
		LeonardoBaseURL: serverURL,
		OpenAIBaseURL:   serverURL,
		PollInterval:    time.Millisecond,
		PollAttempts:    10,
	}
}

func TestNewDispatchesByCredentialType(t *testing.T) {
	opts := testOptions("https://provider.test")

	if _, err := New(domain.Credential{Type: domain.CredentialLeonardo}, opts); err != nil {
		t.Fatalf("leonardo: %v", err)
	}
	if _, err := New(domain.Credential{Type: domain.CredentialOpenAIImage}, opts); err != nil {
		t.Fatalf("openai-image: %v", err)
	}
	if _, err := New(domain.Credential{Type: domain.CredentialDeepSeek}, opts); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for chat-only provider, got %v", err)
	}
}

func TestLeonardoSubmitPollFetch(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/generations":
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("decode submit: %v", err)
			}
			if payload["prompt"] != "cozy reading nook" {
				t.Fatalf("unexpected prompt %v", payload["prompt"])
			}
			json.NewEncoder(w).Encode(map[string]any{
				"sdGenerationJob": map[string]any{"generationId": "gen-123"},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/generations/gen-123":
			status := "PENDING"
			images := []map[string]any{}
			if polls.Add(1) >= 3 {
				status = "COMPLETE"
				images = []map[string]any{{"url": "https://cdn.test/gen-123.png"}}
			}
			json.NewEncoder(w).Encode(map[string]any{
				"generations_by_pk": map[string]any{"status": status, "generated_images": images},
			})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	gen, err := New(domain.Credential{Type: domain.CredentialLeonardo, APIKey: "leo-key"}, testOptions(server.URL))
	if err != nil {
		t.Fatal(err)
	}
	url, err := gen.Generate(context.Background(), Request{Prompt: "cozy reading nook", Width: 1000, Height: 1500})
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://cdn.test/gen-123.png" {
		t.Fatalf("got url %q", url)
	}
	if polls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestLeonardoFailedJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]any{
				"sdGenerationJob": map[string]any{"generationId": "gen-9"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"generations_by_pk": map[string]any{"status": "FAILED"},
		})
	}))
	defer server.Close()

	gen, _ := New(domain.Credential{Type: domain.CredentialLeonardo, APIKey: "k"}, testOptions(server.URL))
	_, err := gen.Generate(context.Background(), Request{Prompt: "x", Width: 100, Height: 100})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected provider failure, got %v", err)
	}
}

func TestLeonardoPollBudgetExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]any{
				"sdGenerationJob": map[string]any{"generationId": "gen-slow"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"generations_by_pk": map[string]any{"status": "PENDING"},
		})
	}))
	defer server.Close()

	opts := testOptions(server.URL)
	opts.PollAttempts = 3
	gen, _ := New(domain.Credential{Type: domain.CredentialLeonardo, APIKey: "k"}, opts)
	_, err := gen.Generate(context.Background(), Request{Prompt: "x", Width: 100, Height: 100})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected provider failure after budget, got %v", err)
	}
}

func TestLeonardoPollErrorsAreRetried(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]any{
				"sdGenerationJob": map[string]any{"generationId": "gen-flaky"},
			})
			return
		}
		if polls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"generations_by_pk": map[string]any{
				"status":           "COMPLETE",
				"generated_images": []map[string]any{{"url": "https://cdn.test/f.png"}},
			},
		})
	}))
	defer server.Close()

	gen, _ := New(domain.Credential{Type: domain.CredentialLeonardo, APIKey: "k"}, testOptions(server.URL))
	url, err := gen.Generate(context.Background(), Request{Prompt: "x", Width: 100, Height: 100})
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://cdn.test/f.png" {
		t.Fatalf("got %q", url)
	}
}

func TestOpenAISynchronousGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["size"] != "1024x1792" {
			t.Fatalf("expected portrait size, got %v", payload["size"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": "https://cdn.test/o.png"}},
		})
	}))
	defer server.Close()

	gen, _ := New(domain.Credential{Type: domain.CredentialOpenAIImage, APIKey: "k"}, testOptions(server.URL))
	url, err := gen.Generate(context.Background(), Request{Prompt: "p", Width: 1000, Height: 1500})
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://cdn.test/o.png" {
		t.Fatalf("got %q", url)
	}
}

func TestLeonardoUsesCredentialModel(t *testing.T) {
	var gotModel atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			gotModel.Store(payload["modelId"])
			json.NewEncoder(w).Encode(map[string]any{
				"sdGenerationJob": map[string]any{"generationId": "gen-m"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"generations_by_pk": map[string]any{
				"status":           "COMPLETE",
				"generated_images": []map[string]any{{"url": "https://cdn.test/m.png"}},
			},
		})
	}))
	defer server.Close()

	cred := domain.Credential{Type: domain.CredentialLeonardo, APIKey: "k", ModelName: "leo-custom"}
	gen, _ := New(cred, testOptions(server.URL))
	if _, err := gen.Generate(context.Background(), Request{Prompt: "x", Width: 100, Height: 100}); err != nil {
		t.Fatal(err)
	}
	if got := gotModel.Load(); got != "leo-custom" {
		t.Fatalf("expected credential model, got %v", got)
	}

	if _, err := gen.Generate(context.Background(), Request{Prompt: "x", Model: "leo-override", Width: 100, Height: 100}); err != nil {
		t.Fatal(err)
	}
	if got := gotModel.Load(); got != "leo-override" {
		t.Fatalf("expected request model to win, got %v", got)
	}
}

func TestOpenAIModelFallsBackToDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["model"] != defaultOpenAIImageModel {
			t.Fatalf("expected default model, got %v", payload["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": "https://cdn.test/d.png"}},
		})
	}))
	defer server.Close()

	gen, _ := New(domain.Credential{Type: domain.CredentialOpenAIImage, APIKey: "k"}, testOptions(server.URL))
	if _, err := gen.Generate(context.Background(), Request{Prompt: "p", Width: 100, Height: 100}); err != nil {
		t.Fatal(err)
	}
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("imagebytes"))
	}))
	defer server.Close()

	client := &http.Client{Timeout: time.Second}
	data, err := Download(context.Background(), client, server.URL+"/img.png")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "imagebytes" {
		t.Fatalf("got %q", data)
	}

	if _, err := Download(context.Background(), client, server.URL+"/missing.png"); !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected provider failure for 404, got %v", err)
	}
}
