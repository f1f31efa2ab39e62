package tangguh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPTransportCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in httpCallRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if in.Method != "rates.spot" {
			t.Errorf("Expected rates.spot, got %q", in.Method)
		}
		if string(in.Params) != `{"symbol":"X"}` {
			t.Errorf("Unexpected params %s", in.Params)
		}
		_ = json.NewEncoder(w).Encode(httpCallResponse{Result: json.RawMessage(`{"rate":1.25}`)})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL)
	result, err := transport.Call(context.Background(), "rates.spot", json.RawMessage(`{"symbol":"X"}`))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(result) != `{"rate":1.25}` {
		t.Errorf("Unexpected result %s", result)
	}
}

func TestHTTPTransportRemoteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(httpCallResponse{
			Error: &wsError{Code: -32601, Message: "method not found"},
		})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL)
	_, err := transport.Call(context.Background(), "missing", nil)

	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("Expected CallError, got %v", err)
	}
	if callErr.Code != -32601 || callErr.Message != "method not found" {
		t.Errorf("Unexpected call error %+v", callErr)
	}
}

func TestHTTPTransportServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL)
	_, err := transport.Call(context.Background(), "m", nil)
	if err == nil {
		t.Fatal("Expected error for 502")
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		t.Error("Expected a transport error, not a CallError")
	}
}

func TestHTTPTransportContextCancellation(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	transport := NewHTTPTransport(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := transport.Call(ctx, "m", nil); err == nil {
		t.Error("Expected error on context deadline")
	}
}

func TestHTTPTransportRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(httpCallResponse{Result: json.RawMessage(`1`)})
	}))
	defer server.Close()

	transport := NewHTTPTransportWithLimiter(server.URL, 1, time.Hour)

	if _, err := transport.Call(context.Background(), "m", nil); err != nil {
		t.Fatalf("Expected first call to pass, got %v", err)
	}
	if _, err := transport.Call(context.Background(), "m", nil); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	if !rl.Allow() {
		t.Fatal("Expected initial token")
	}
	if rl.Allow() {
		t.Fatal("Expected empty bucket")
	}

	time.Sleep(30 * time.Millisecond)
	if !rl.Allow() {
		t.Error("Expected refilled token")
	}
}

func TestRateLimiterCapsAtMax(t *testing.T) {
	rl := NewRateLimiter(2, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("Expected full bucket")
	}
	if rl.Allow() {
		t.Error("Expected bucket capped at max tokens")
	}
}
