package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nextmed-labs/trustledger/pkg/enums"
)

func TestSimulatedAnchorer(t *testing.T) {
	a := SimulatedAnchorer{Clock: func() time.Time { return time.UnixMilli(99) }}
	job := Job{Payload: testPayload("trk-9")}

	receipt, err := a.Anchor(context.Background(), job)
	if err != nil || receipt != "anchr-trk-9-99" {
		t.Fatalf("unexpected receipt %q err %v", receipt, err)
	}

	job.SimulateAnchor = enums.SimulationFail
	if _, err := a.Anchor(context.Background(), job); err == nil || err.Error() != ErrMsgAnchorSimulated {
		t.Fatalf("expected simulated failure, got %v", err)
	}
}

func TestHTTPAnchorer(t *testing.T) {
	var got anchorRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		if got.TrackingID == "trk-down" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"PROOF_SERVER_DOWN"}`))
			return
		}
		_, _ = w.Write([]byte(`{"receipt":"rcpt-1"}`))
	}))
	defer srv.Close()

	a, err := NewHTTPAnchorer(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("new anchorer: %v", err)
	}
	receipt, err := a.Anchor(context.Background(), Job{ID: "outbox-1", Payload: testPayload("trk-1")})
	if err != nil || receipt != "rcpt-1" {
		t.Fatalf("unexpected receipt %q err %v", receipt, err)
	}
	if got.JobID != "outbox-1" || got.Payload.ConsentID != "cons-1" {
		t.Fatalf("unexpected request %+v", got)
	}

	if _, err := a.Anchor(context.Background(), Job{Payload: testPayload("trk-down")}); err == nil || err.Error() != "PROOF_SERVER_DOWN" {
		t.Fatalf("expected service error, got %v", err)
	}

	if _, err := NewHTTPAnchorer(" ", time.Second); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestBackoffDelay(t *testing.T) {
	for attempts, want := range map[int]int64{1: 4000, 2: 8000, 4: 32000} {
		got := backoffDelayMs(2000, attempts, 500, fixedRand(499))
		if got != want+499 {
			t.Fatalf("attempts %d: expected %d, got %d", attempts, want+499, got)
		}
	}
	if got := backoffDelayMs(2000, 1, 0, fixedRand(499)); got != 4000 {
		t.Fatalf("zero jitter window must add nothing, got %d", got)
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	release := k.Lock("a")
	done := make(chan struct{})
	go func() {
		r := k.Lock("a")
		r()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("second lock acquired while first held")
	case <-time.After(10 * time.Millisecond):
	}
	release()
	<-done
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", len(k.locks))
	}
}
