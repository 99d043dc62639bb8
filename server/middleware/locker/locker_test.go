package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCheckBlocksWritesWhenLocked(t *testing.T) {
	l := New()
	l.Lock()
	h := l.Check(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mono/position", strings.NewReader(`{"f64":500}`)))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/mono/position", nil))
	if w.Code != http.StatusOK {
		t.Errorf("reads should pass a lock, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mono/lock", strings.NewReader(`{"bool":false}`)))
	if w.Code != http.StatusOK {
		t.Errorf("the lock route must never be locked, got %d", w.Code)
	}
}

func TestProtectReads(t *testing.T) {
	l := New()
	l.ProtectReads = true
	l.Lock()
	w := httptest.NewRecorder()
	l.Check(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cam/image", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423, got %d", w.Code)
	}
}

func TestHTTPSetThenGet(t *testing.T) {
	l := New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool":true}`)))
	if w.Code != http.StatusOK || !l.Locked() {
		t.Fatalf("lock was not taken, code %d", w.Code)
	}
	w = httptest.NewRecorder()
	l.HTTPGet(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if !strings.Contains(w.Body.String(), "true") {
		t.Errorf("expected true in body, got %q", w.Body.String())
	}
	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`not json`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad body, got %d", w.Code)
	}
}
