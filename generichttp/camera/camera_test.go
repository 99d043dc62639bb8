package camera_test

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"

	cam "github.com/labctl/spectrolab/camera"
	"github.com/labctl/spectrolab/generichttp"
	"github.com/labctl/spectrolab/generichttp/camera"
	"github.com/labctl/spectrolab/imgrec"
	"github.com/labctl/spectrolab/picam"
)

func serve(t *testing.T, rec *imgrec.Recorder) (*httptest.Server, *picam.Mock) {
	t.Helper()
	m := picam.NewMock(7)
	rt := generichttp.RouteTable{}
	camera.HTTPPicture(m, rt, rec)
	r := chi.NewRouter()
	rt.Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, m
}

func TestParseExposure(t *testing.T) {
	cases := map[string]time.Duration{
		"2":    2 * time.Second,
		"0.5":  500 * time.Millisecond,
		"25ms": 25 * time.Millisecond,
		"10us": 10 * time.Microsecond,
	}
	for in, want := range cases {
		got, err := camera.ParseExposure(in)
		if err != nil {
			t.Errorf("%s: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%s parsed to %v, expected %v", in, got, want)
		}
	}
	if _, err := camera.ParseExposure("soon"); err == nil {
		t.Error("nonsense exposure parsed")
	}
}

func TestExposureTimeRoundTrip(t *testing.T) {
	srv, m := serve(t, nil)
	resp, err := http.Post(srv.URL+"/exposure-time", "application/json", strings.NewReader(`{"f64": 0.25}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if d, _ := m.GetExposureTime(); d != 250*time.Millisecond {
		t.Errorf("exposure is %v, expected 250ms", d)
	}

	resp, err = http.Get(srv.URL + "/exposure-time")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	f := generichttp.FloatT{}
	if err = json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 0.25 {
		t.Errorf("got %f s, expected 0.25", f.F64)
	}
}

func TestImageFormats(t *testing.T) {
	srv, m := serve(t, nil)
	if err := m.SetROI(cam.FullVerticalBinning(1340, 100)); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get(srv.URL + "/image?fmt=png&exposureTime=1ms")
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 1340 || b.Dy() != 1 {
		t.Errorf("image is %dx%d, expected 1340x1", b.Dx(), b.Dy())
	}

	resp, err = http.Get(srv.URL + "/image?fmt=fits")
	if err != nil {
		t.Fatal(err)
	}
	buf := &bytes.Buffer{}
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if !bytes.HasPrefix(buf.Bytes(), []byte("SIMPLE  =")) {
		t.Error("fits response does not start with SIMPLE")
	}

	for _, q := range []string{"?fmt=tiff", "?exposureTime=never"} {
		resp, err = http.Get(srv.URL + "/image" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s gave %d, expected 400", q, resp.StatusCode)
		}
	}
}

func TestBadROIIs400(t *testing.T) {
	srv, _ := serve(t, nil)
	body := `{"x": 0, "width": 1341, "xBinning": 1, "y": 0, "height": 100, "yBinning": 1}`
	resp, err := http.Post(srv.URL+"/roi", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized ROI gave %d, expected 400", resp.StatusCode)
	}
}

func TestIntrospectedRoutes(t *testing.T) {
	rt := generichttp.RouteTable{}
	camera.HTTPPicture(picam.NewMock(1), rt, nil)
	eps := strings.Join(rt.Endpoints(), "\n")
	for _, want := range []string{"GET /sensor", "GET /temperature", "POST /temperature-setpoint", "GET /temperature-status", "GET /model"} {
		if !strings.Contains(eps, want) {
			t.Errorf("missing route %s", want)
		}
	}
}

func TestAutowrite(t *testing.T) {
	rec := imgrec.New(t.TempDir(), "img")
	rec.Enabled = true
	srv, _ := serve(t, rec)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/image?fmt=fits&exposureTime=1ms")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	if rec.Counter() != 3 {
		t.Errorf("recorded %d files, expected 3", rec.Counter())
	}
}

// shrinking narrows the ROI between GetROI and the readout, as a concurrent
// SetROI on a camera without GetFrameROI would
type shrinking struct {
	cam.Minimal
}

func (s shrinking) GetFrame() ([]uint16, error) {
	if err := s.SetROI(cam.ROI{X: 0, Width: 100, XBinning: 1, Y: 0, Height: 1, YBinning: 1}); err != nil {
		return nil, err
	}
	return s.Minimal.GetFrame()
}

func TestImageROIChangedDuringReadout(t *testing.T) {
	m := picam.NewMock(7)
	rt := generichttp.RouteTable{}
	camera.HTTPPicture(shrinking{m}, rt, nil)
	r := chi.NewRouter()
	rt.Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/image?fmt=png")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("mismatched frame and ROI gave %d, expected 500", resp.StatusCode)
	}
}

func TestFrameMatchesROI(t *testing.T) {
	var f cam.ROIFramer = picam.NewMock(7)
	img, roi, err := f.GetFrameROI()
	if err != nil {
		t.Fatal(err)
	}
	w, h := roi.Size()
	if len(img) != w*h {
		t.Errorf("frame has %d pixels, ROI %dx%d", len(img), w, h)
	}

	srv, m := serve(t, nil)
	if err = m.SetROI(cam.ROI{X: 10, Width: 200, XBinning: 2, Y: 0, Height: 100, YBinning: 100}); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get(srv.URL + "/image?fmt=png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	im, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := im.Bounds(); b.Dx() != 100 || b.Dy() != 1 {
		t.Errorf("image is %dx%d, expected 100x1", b.Dx(), b.Dy())
	}
}
