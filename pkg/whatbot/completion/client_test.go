package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	if p.MaxTokens != 100 || p.Temperature != 0.8 || p.TopP != 1 || p.N != 1 || p.Stop != "\n" {
		t.Errorf("unexpected default params: %+v", p)
	}
}

func TestCompleteRequestShape(t *testing.T) {
	var (
		gotBody   map[string]any
		gotAuth   string
		gotType   string
		gotMethod string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Write([]byte(`{"choices":[{"text":"  Sounds good! "}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, APIKey: "sk-test"}, nil)
	text, err := c.Complete(context.Background(), "hello", DefaultParams())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if text != "  Sounds good! " {
		t.Errorf("expected raw choice text, got %q", text)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("unexpected Content-Type %q", gotType)
	}

	want := map[string]any{
		"prompt":      "hello",
		"max_tokens":  float64(100),
		"temperature": 0.8,
		"top_p":       float64(1),
		"n":           float64(1),
		"stop":        "\n",
	}
	for k, v := range want {
		if gotBody[k] != v {
			t.Errorf("body[%q] = %v, want %v", k, gotBody[k], v)
		}
	}
	if _, ok := gotBody["model"]; ok {
		t.Error("expected model to be omitted when not configured")
	}
}

func TestCompleteSendsModel(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Write([]byte(`{"choices":[{"text":"ok"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Model: DefaultModel}, nil)
	if _, err := c.Complete(context.Background(), "p", DefaultParams()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if gotBody["model"] != DefaultModel {
		t.Errorf("expected model %q, got %v", DefaultModel, gotBody["model"])
	}
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"error":"boom"}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected *APIError, got %T: %v", err, err)
				}
				if apiErr.StatusCode != http.StatusInternalServerError {
					t.Errorf("expected status 500, got %d", apiErr.StatusCode)
				}
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `not json`,
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			body:   `{"choices":[]}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoChoices) {
					t.Errorf("expected ErrNoChoices, got %v", err)
				}
			},
		},
		{
			name:   "choice without text",
			status: http.StatusOK,
			body:   `{"choices":[{}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(Config{URL: srv.URL, APIKey: "k"}, nil)
			_, err := c.Complete(context.Background(), "p", DefaultParams())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestNewClientDefaultURL(t *testing.T) {
	c := NewClient(Config{}, nil)
	if c.url != DefaultURL {
		t.Errorf("expected default URL %q, got %q", DefaultURL, c.url)
	}
}
