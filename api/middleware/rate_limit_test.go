package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nextmed-labs/trustledger/internal/authz"
	"github.com/nextmed-labs/trustledger/pkg/enums"
)

type fakeRateStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: map[string]int64{}}
}

func (f *fakeRateStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func limitedHandler(policy RateLimitPolicy, store RateLimitStore) http.Handler {
	return RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func requestAs(role enums.Role) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/outbox/tick", nil)
	return req.WithContext(WithPrincipal(req.Context(), authz.Principal{Role: role}))
}

func TestRateLimitBlocksPerRole(t *testing.T) {
	store := newFakeRateStore()
	handler := limitedHandler(NewRateLimitPolicy("ops", time.Minute, 2), store)

	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, requestAs(enums.RoleOperator))
		if resp.Code != http.StatusOK {
			t.Fatalf("attempt %d expected 200 got %d", i+1, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, requestAs(enums.RoleOperator))
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60 got %q", got)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, requestAs(enums.RoleAuditor))
	if resp.Code != http.StatusOK {
		t.Fatalf("other roles keep their own budget, got %d", resp.Code)
	}
	if store.counts["ops:operator"] != 3 || store.counts["ops:auditor"] != 1 {
		t.Fatalf("unexpected counters %v", store.counts)
	}
}

func TestRateLimitFailsOpenOnStoreError(t *testing.T) {
	store := newFakeRateStore()
	store.err = errors.New("redis down")
	handler := limitedHandler(NewRateLimitPolicy("ops", time.Minute, 1), store)

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, requestAs(enums.RoleOperator))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected fail-open 200 got %d", resp.Code)
		}
	}
}

func TestRateLimitDisabled(t *testing.T) {
	cases := []struct {
		name   string
		policy RateLimitPolicy
		store  RateLimitStore
	}{
		{"nil store", NewRateLimitPolicy("ops", time.Minute, 1), nil},
		{"zero limit", NewRateLimitPolicy("ops", time.Minute, 0), newFakeRateStore()},
		{"zero window", NewRateLimitPolicy("ops", 0, 1), newFakeRateStore()},
	}
	for _, tc := range cases {
		handler := limitedHandler(tc.policy, tc.store)
		for i := 0; i < 3; i++ {
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, requestAs(enums.RoleOperator))
			if resp.Code != http.StatusOK {
				t.Fatalf("%s: expected 200 got %d", tc.name, resp.Code)
			}
		}
	}
}
