package spectro

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/astrogo/fitsio"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/plot/vg"

	"github.com/labctl/spectrolab/camera"
	"github.com/labctl/spectrolab/generichttp"
	gcam "github.com/labctl/spectrolab/generichttp/camera"
	"github.com/labctl/spectrolab/generichttp/thermal"
	"github.com/labctl/spectrolab/imgrec"
)

// MaxFrames caps the frames query parameter
const MaxFrames = 1000

// HTTPWrapper provides an HTTP interface to a spectrometer
type HTTPWrapper struct {
	Spec *Spectrometer

	// Rec, if active, receives a FITS copy of every spectrum served as FITS
	Rec *imgrec.Recorder

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(s *Spectrometer, rec *imgrec.Recorder) HTTPWrapper {
	w := HTTPWrapper{Spec: s, Rec: rec}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/wavelength"}:     generichttp.GetFloat(s.GetWavelength),
		{Method: http.MethodPost, Path: "/wavelength"}:    generichttp.SetFloat(s.SetWavelength),
		{Method: http.MethodGet, Path: "/grating"}:        generichttp.GetInt(s.GetGrating),
		{Method: http.MethodPost, Path: "/grating"}:       generichttp.SetInt(s.SetGrating),
		{Method: http.MethodGet, Path: "/exit-mirror"}:    generichttp.GetString(s.GetExitMirror),
		{Method: http.MethodPost, Path: "/exit-mirror"}:   generichttp.SetString(s.SetExitMirror),
		{Method: http.MethodGet, Path: "/roi"}:            w.GetROI,
		{Method: http.MethodPost, Path: "/roi"}:           w.SetROI,
		{Method: http.MethodGet, Path: "/axis"}:           w.GetAxis,
		{Method: http.MethodGet, Path: "/status"}:         w.GetStatus,
		{Method: http.MethodGet, Path: "/spectrum"}:       w.GetSpectrum,
		{Method: http.MethodGet, Path: "/stats"}:          w.GetStats,
		{Method: http.MethodGet, Path: "/stream"}:         w.Stream,
		{Method: http.MethodGet, Path: "/exposure-time"}:  gcam.GetExposureTime(s.Cam),
		{Method: http.MethodPost, Path: "/exposure-time"}: gcam.SetExposureTime(s.Cam),
		{Method: http.MethodGet, Path: "/image"}:          gcam.GetFrame(s.Cam, rec),
	}
	if sci, ok := s.Cam.(camera.Sci); ok {
		thermal.HTTPController(sci, rt)
	}
	w.RouteTable = rt
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(w)
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// frames parses the frames query parameter, default 1
func frames(r *http.Request) (int, error) {
	str := r.URL.Query().Get("frames")
	if str == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(str)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > MaxFrames {
		return 0, errors.New("frames must be between 1 and " + strconv.Itoa(MaxFrames))
	}
	return n, nil
}

// GetROI returns the ROI as JSON
func (h HTTPWrapper) GetROI(w http.ResponseWriter, r *http.Request) {
	roi, err := h.Spec.GetROI()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.WriteJSON(w, roi)
}

// SetROI sets the ROI from a JSON body and recomputes the axis
func (h HTTPWrapper) SetROI(w http.ResponseWriter, r *http.Request) {
	roi := camera.ROI{}
	err := json.NewDecoder(r.Body).Decode(&roi)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.Spec.SetROI(roi)
	if err != nil {
		code := http.StatusInternalServerError
		var bad camera.ErrBadROI
		if errors.As(err, &bad) {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetAxis returns the wavelength axis as a JSON array
func (h HTTPWrapper) GetAxis(w http.ResponseWriter, r *http.Request) {
	axis, err := h.Spec.Axis()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.WriteJSON(w, axis)
}

// GetStatus returns the spectrometer state as JSON
func (h HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	generichttp.WriteJSON(w, h.Spec.Status())
}

// GetSpectrum acquires a spectrum and returns it.
//
// the format may be specified in the fmt query parameter as json, csv, png
// or fits; default to json.  frames averages that many readouts.
// exposureTime behaves as it does on the camera's image route.
func (h HTTPWrapper) GetSpectrum(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := frames(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if texp := q.Get("exposureTime"); texp != "" {
		d, err := gcam.ParseExposure(texp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = h.Spec.Cam.SetExposureTime(d); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	spec, err := h.Spec.Acquire(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch format := q.Get("fmt"); format {
	case "", "json":
		generichttp.WriteJSON(w, spec)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=spectrum.csv")
		w.WriteHeader(http.StatusOK)
		if err = spec.WriteCSV(w); err != nil {
			log.Error().Err(err).Msg("writing csv")
		}
	case "png":
		buf := &bytes.Buffer{}
		if err = spec.WritePNG(buf, 8*vg.Inch, 4*vg.Inch); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	case "fits":
		h.respondFits(w, spec)
	default:
		http.Error(w, "unsupported format "+format, http.StatusBadRequest)
	}
}

func (h HTTPWrapper) respondFits(w http.ResponseWriter, spec Spectrum) {
	cards := []fitsio.Card{{Name: "HDRVER", Value: gcam.HeaderVersion, Comment: "header version"}}
	if carder, ok := h.Spec.Cam.(gcam.MetadataMaker); ok {
		cards = append(cards, carder.CollectHeaderMetadata()...)
	}
	buf := &bytes.Buffer{}
	if err := spec.WriteFits(buf, cards); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.Rec != nil && h.Rec.Active() {
		fn, err := h.Rec.Record(func(f io.Writer) error {
			_, err := f.Write(buf.Bytes())
			return err
		})
		if err != nil {
			log.Warn().Err(err).Msg("autowrite failed")
		} else {
			log.Debug().Str("file", fn).Msg("autowrite")
		}
	}
	w.Header().Set("Content-Type", "image/fits")
	w.Header().Set("Content-Disposition", "attachment; filename=spectrum.fits")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// GetStats acquires a spectrum and returns its summary statistics
func (h HTTPWrapper) GetStats(w http.ResponseWriter, r *http.Request) {
	n, err := frames(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	spec, err := h.Spec.Acquire(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.WriteJSON(w, spec.Stats())
}

// Stream acquires spectra continuously and writes them as newline
// delimited JSON until the client goes away or count spectra are sent
func (h HTTPWrapper) Stream(w http.ResponseWriter, r *http.Request) {
	n, err := frames(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	count := 0
	if str := r.URL.Query().Get("count"); str != "" {
		if count, err = strconv.Atoi(str); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	err = h.Spec.Grab(r.Context(), count, n, func(s Spectrum) error {
		if err := enc.Encode(s); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("stream ended")
	}
}
