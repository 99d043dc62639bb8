package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labctl/spectrolab/camera"
	"github.com/labctl/spectrolab/util"
)

func mockConfig() Config {
	return Config{
		Addr: ":0",
		Mock: true,
		Nodes: []ObjSetup{
			{
				Addr: "COM1", Serial: true, Endpoint: "bench/mono", Type: "SpectraPro",
				Limits: map[string]util.Limiter{"wavelength": {Min: 200, Max: 1000}},
			},
			{Endpoint: "/bench/cam/", Type: "picam"},
			{
				Addr: "COM1", Serial: true, Endpoint: "bench/spectro", Type: "spectrometer",
				ROI: &camera.ROI{X: 0, Width: 1340, XBinning: 1, Y: 0, Height: 100, YBinning: 100},
			},
		},
	}
}

func build(t *testing.T, c Config) *httptest.Server {
	t.Helper()
	mux, closers, err := BuildMux(c)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		closeAll(closers)
	})
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestBuildMuxEndpoints(t *testing.T) {
	srv := build(t, mockConfig())
	resp := do(t, http.MethodGet, srv.URL+"/endpoints", "")
	defer resp.Body.Close()
	graph := map[string][]string{}
	if err := json.NewDecoder(resp.Body).Decode(&graph); err != nil {
		t.Fatal(err)
	}
	for _, stem := range []string{"/bench/mono", "/bench/cam", "/bench/spectro"} {
		if len(graph[stem]) == 0 {
			t.Errorf("no routes for %s", stem)
		}
	}
	for _, stem := range []string{"/bench/cam", "/bench/spectro"} {
		for _, route := range []string{
			"GET /autowrite/root", "POST /autowrite/root",
			"GET /autowrite/prefix", "POST /autowrite/prefix",
			"GET /autowrite/enabled", "POST /autowrite/enabled",
		} {
			if !contains(graph[stem], route) {
				t.Errorf("%s does not serve %s", stem, route)
			}
		}
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func TestCameraAutowriteOverHTTP(t *testing.T) {
	srv := build(t, mockConfig())
	resp := do(t, http.MethodPost, srv.URL+"/bench/cam/autowrite/prefix", `{"str": "dark"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setting the prefix gave %d, expected 200", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/bench/cam/autowrite/prefix", "")
	defer resp.Body.Close()
	var hp struct {
		Str string `json:"str"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hp); err != nil {
		t.Fatal(err)
	}
	if hp.Str != "dark" {
		t.Errorf("prefix read back %q, expected dark", hp.Str)
	}
}

func TestMonochromatorLimits(t *testing.T) {
	srv := build(t, mockConfig())
	resp := do(t, http.MethodPost, srv.URL+"/bench/mono/axis/wavelength/pos", `{"f64": 1200}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("move beyond limit gave %d, expected 400", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, srv.URL+"/bench/mono/axis/wavelength/pos", `{"f64": 500}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("legal move gave %d, expected 200", resp.StatusCode)
	}
}

// getF64 reads a HumanPayload float from url
func getF64(t *testing.T, url string) float64 {
	t.Helper()
	resp := do(t, http.MethodGet, url, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s gave %d", url, resp.StatusCode)
	}
	var hp struct {
		F64 float64 `json:"f64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hp); err != nil {
		t.Fatal(err)
	}
	return hp.F64
}

// getAxis reads a spectrometer's wavelength axis
func getAxis(t *testing.T, url string) []float64 {
	t.Helper()
	resp := do(t, http.MethodGet, url+"/axis", "")
	defer resp.Body.Close()
	var axis []float64
	if err := json.NewDecoder(resp.Body).Decode(&axis); err != nil {
		t.Fatal(err)
	}
	if len(axis) != 1340 {
		t.Fatalf("axis has %d pixels, expected 1340", len(axis))
	}
	return axis
}

func TestSpectrometerFollowsSharedMonochromator(t *testing.T) {
	srv := build(t, mockConfig())
	resp := do(t, http.MethodPost, srv.URL+"/bench/mono/axis/wavelength/pos", `{"f64": 700}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move gave %d, expected 200", resp.StatusCode)
	}
	if nm := getF64(t, srv.URL+"/bench/spectro/wavelength"); nm != 700 {
		t.Errorf("spectrometer reports %f nm after the monochromator moved to 700", nm)
	}
	axis := getAxis(t, srv.URL+"/bench/spectro")
	if c := axis[1340/2-1]; c-700 > 1e-6 || c-700 < -1e-6 {
		t.Errorf("axis centre at %f nm, expected 700", c)
	}
	wide := axis[len(axis)-1] - axis[0]

	resp = do(t, http.MethodPost, srv.URL+"/bench/mono/grating", `{"int": 2}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grating change gave %d, expected 200", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/bench/spectro/grating", "")
	var hp struct {
		Int int `json:"int"`
	}
	err := json.NewDecoder(resp.Body).Decode(&hp)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if hp.Int != 2 {
		t.Errorf("spectrometer reports grating %d, expected 2", hp.Int)
	}
	axis = getAxis(t, srv.URL+"/bench/spectro")
	if r := wide / (axis[len(axis)-1] - axis[0]); r < 3.5 || r > 4.5 {
		t.Errorf("300 to 1200 g/mm narrowed the range by %f, expected about 4", r)
	}
}

func TestLockedNodeRefusesWrites(t *testing.T) {
	srv := build(t, mockConfig())
	resp := do(t, http.MethodPost, srv.URL+"/bench/spectro/lock", `{"bool": true}`)
	resp.Body.Close()

	resp = do(t, http.MethodPost, srv.URL+"/bench/spectro/wavelength", `{"f64": 546}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("write to locked node gave %d, expected 423", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/bench/spectro/wavelength", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("read of locked node gave %d, expected 200", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, srv.URL+"/bench/spectro/lock", `{"bool": false}`)
	resp.Body.Close()
	resp = do(t, http.MethodPost, srv.URL+"/bench/spectro/wavelength", `{"f64": 546}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("write to unlocked node gave %d, expected 200", resp.StatusCode)
	}
}

func TestMockSpectrometerSeesLamp(t *testing.T) {
	srv := build(t, mockConfig())
	resp := do(t, http.MethodPost, srv.URL+"/bench/spectro/grating", `{"int": 2}`)
	resp.Body.Close()
	resp = do(t, http.MethodPost, srv.URL+"/bench/spectro/wavelength", `{"f64": 436}`)
	resp.Body.Close()
	resp = do(t, http.MethodPost, srv.URL+"/bench/spectro/exposure-time", `{"f64": 0.001}`)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/bench/spectro/stats", "")
	defer resp.Body.Close()
	var st struct {
		PeakWavelength float64 `json:"peakWavelength"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if d := st.PeakWavelength - 435.833; d > 0.1 || d < -0.1 {
		t.Errorf("peak at %f nm, expected the 435.833 nm mercury line", st.PeakWavelength)
	}
}

func TestBuildMuxRejects(t *testing.T) {
	c := Config{Mock: true, Nodes: []ObjSetup{{Endpoint: "x", Type: "toaster"}}}
	if _, _, err := BuildMux(c); err == nil {
		t.Error("unknown node type accepted")
	}
	c.Nodes = []ObjSetup{{Endpoint: "x", Type: "picam"}, {Endpoint: "/x/", Type: "picam"}}
	if _, _, err := BuildMux(c); err == nil {
		t.Error("duplicate endpoint accepted")
	}
}
