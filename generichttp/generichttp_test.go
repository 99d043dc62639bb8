package generichttp

import (
	"errors"
	"go/types"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
)

func TestSubMuxSanitize(t *testing.T) {
	cases := map[string]string{
		"omc/nkt/": "/omc/nkt",
		"/omc/nkt": "/omc/nkt",
		"/mono/*":  "/mono",
		"spectrum": "/spectrum",
	}
	for in, want := range cases {
		if got := SubMuxSanitize(in); got != want {
			t.Errorf("SubMuxSanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHumanPayloadShapes(t *testing.T) {
	cases := []struct {
		hp   HumanPayload
		want string
	}{
		{HumanPayload{T: types.Float64, Float: 546.1}, `{"f64":546.1}`},
		{HumanPayload{T: types.Int, Int: 2}, `{"int":2}`},
		{HumanPayload{T: types.String, String: "front"}, `{"str":"front"}`},
		{HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.hp.EncodeAndRespond(w, nil)
		if got := strings.TrimSpace(w.Body.String()); got != c.want {
			t.Errorf("got %s, want %s", got, c.want)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("bad content type %q", ct)
		}
	}
}

func TestSetFloatBadBody(t *testing.T) {
	called := false
	h := SetFloat(func(float64) error { called = true; return nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	if w.Code != http.StatusBadRequest || called {
		t.Errorf("expected 400 without a call, got %d called=%v", w.Code, called)
	}
}

func TestSetIntPropagatesError(t *testing.T) {
	h := SetInt(func(int) error { return errors.New("grating out of range") })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"int":12}`)))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "grating out of range") {
		t.Errorf("error text missing from body: %q", w.Body.String())
	}
}

func TestRouteTableBindAndEndpoints(t *testing.T) {
	var got int
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/grating"}:  GetInt(func() (int, error) { return 2, nil }),
		{Method: http.MethodPost, Path: "/grating"}: SetInt(func(i int) error { got = i; return nil }),
	}
	eps := rt.Endpoints()
	if len(eps) != 2 || eps[0] != "GET /grating" || eps[1] != "POST /grating" {
		t.Errorf("unexpected endpoints %v", eps)
	}

	r := chi.NewRouter()
	rt.Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/grating", "application/json", strings.NewReader(`{"int":3}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || got != 3 {
		t.Errorf("POST did not reach the handler: %d, %d", resp.StatusCode, got)
	}
}
