package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateBuffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path %s", r.URL.Path)
		}
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Stream {
			t.Error("buffered call sent stream=true")
		}
		if req.Model != "llama3:instruct" {
			t.Errorf("model %q", req.Model)
		}
		if req.NumPredict != 80 {
			t.Errorf("num_predict %d", req.NumPredict)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "Hi there!", "done": true})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3:instruct")
	c.NumPredict = 80
	got, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "Hi there!" {
		t.Fatalf("reply %q", got)
	}
}

func TestGenerateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c := New(srv.URL, "m")
	_, err := c.Generate(context.Background(), "hello")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("want ErrUnreachable, got %v", err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, "m")
	c.Timeout = 50 * time.Millisecond
	_, err := c.Generate(context.Background(), "hello")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

func TestGenerateMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"done": true})
	}))
	defer srv.Close()

	c := New(srv.URL, "m")
	_, err := c.Generate(context.Background(), "hello")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("want ErrProtocol, got %v", err)
	}
}

func TestGenerateBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "m")
	_, err := c.Generate(context.Background(), "hello")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("want ErrProtocol, got %v", err)
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !req.Stream {
			t.Error("streaming call sent stream=false")
		}
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`{"response":"Hi"}`,
			`{"response":" there"}`,
			`{"response":"","done":true}`,
		} {
			_, _ = w.Write([]byte(line + "\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "m")
	st, err := c.GenerateStream(context.Background(), "hello")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer st.Close()

	var got string
	for {
		frag, ok := st.Next()
		if !ok {
			break
		}
		got += frag
	}
	if got != "Hi there" {
		t.Fatalf("concatenated %q", got)
	}
	if st.Err() != nil {
		t.Fatalf("stream err: %v", st.Err())
	}
}

func TestGenerateStreamUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, "m")
	_, err := c.GenerateStream(context.Background(), "hello")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("want ErrUnreachable, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:instruct"},{"name":"phi3:mini"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3:instruct")
	models, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if len(models) != 2 || models[0] != "llama3:instruct" || models[1] != "phi3:mini" {
		t.Fatalf("models %v", models)
	}
}
