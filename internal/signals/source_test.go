package signals

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crypto-trading-assistant/internal/engine"

	"github.com/rs/zerolog"
)

// ============================================================================
// TEST: HTTP source
// ============================================================================

func TestHTTPSource_Latest(t *testing.T) {
	want := []engine.Signal{
		{Pair: "BTCUSDT", Direction: engine.DirectionBullish, Action: engine.ActionBuy,
			Confidence: 0.8, Strength: 2000, GeneratedAt: time.Now().UTC()},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/signals" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("pairs"); got != "BTCUSDT,ETHUSDT" {
			t.Errorf("unexpected pairs query: %q", got)
		}
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, 5*time.Second, zerolog.Nop())
	got, err := src.Latest(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Pair != "BTCUSDT" || got[0].Strength != 2000 {
		t.Errorf("unexpected signals: %+v", got)
	}
}

func TestHTTPSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, 5*time.Second, zerolog.Nop())
	if _, err := src.Latest(context.Background(), []string{"BTCUSDT"}); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestHTTPSource_Unreachable(t *testing.T) {
	src := NewHTTPSource("http://127.0.0.1:1", time.Second, zerolog.Nop())
	if _, err := src.Latest(context.Background(), []string{"BTCUSDT"}); err == nil {
		t.Fatal("expected error for unreachable service")
	}
}

// ============================================================================
// TEST: Queue source
// ============================================================================

func TestQueueSource_FiltersByPair(t *testing.T) {
	q := NewQueueSource()
	q.Push(
		engine.Signal{Pair: "BTCUSDT", Action: engine.ActionBuy},
		engine.Signal{Pair: "DOGEUSDT", Action: engine.ActionBuy},
	)

	got, err := q.Latest(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Pair != "BTCUSDT" {
		t.Errorf("expected only BTCUSDT, got %+v", got)
	}

	// the unmatched signal stays queued for a later call
	got, _ = q.Latest(context.Background(), []string{"DOGEUSDT"})
	if len(got) != 1 || got[0].Pair != "DOGEUSDT" {
		t.Errorf("expected queued DOGEUSDT, got %+v", got)
	}

	// drained
	got, _ = q.Latest(context.Background(), []string{"BTCUSDT", "DOGEUSDT"})
	if len(got) != 0 {
		t.Errorf("expected empty queue, got %+v", got)
	}
}
