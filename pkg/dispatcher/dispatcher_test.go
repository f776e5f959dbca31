package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riskstream/risk-worker/pkg/config"
	"github.com/riskstream/risk-worker/pkg/logging"
	"github.com/riskstream/risk-worker/pkg/metrics"
	"github.com/riskstream/risk-worker/pkg/model"
)

func TestDispatcherDeliversSuccessfully(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(config.CallbackConfig{URL: srv.URL}, 2, 100, logging.New(logging.Config{Level: logging.LevelError}), metrics.New())
	d.Start(context.Background())

	d.Enqueue(model.ResultEnvelope{RequestID: "r1", Status: model.StatusSuccess})
	d.Drain(5 * time.Second)

	if atomic.LoadInt32(&received) != 1 {
		t.Fatalf("received = %d, want 1", received)
	}
}

func TestDispatcherDropsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(config.CallbackConfig{URL: srv.URL}, 1, 100, logging.New(logging.Config{Level: logging.LevelError}), metrics.New())
	d.Start(context.Background())

	d.Enqueue(model.ResultEnvelope{RequestID: "r1", Status: model.StatusSuccess})
	d.Drain(5 * time.Second)
	// No retry: the call above returning (via Drain) without hanging is
	// the behavior under test.
}

func TestDispatcherEnqueueDoesNotBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(config.CallbackConfig{URL: srv.URL}, 1, 1, logging.New(logging.Config{Level: logging.LevelError}), metrics.New())
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 8; i++ {
			d.Enqueue(model.ResultEnvelope{RequestID: "r"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked past the queue buffer")
	}
	d.Drain(5 * time.Second)
}
