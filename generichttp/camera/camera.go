// Package camera provides a generic HTTP interface to a scientific camera
package camera

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/types"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/rs/zerolog/log"

	cam "github.com/labctl/spectrolab/camera"
	"github.com/labctl/spectrolab/generichttp"
	"github.com/labctl/spectrolab/generichttp/thermal"
	"github.com/labctl/spectrolab/imgrec"
	"github.com/labctl/spectrolab/util"
)

// HeaderVersion is written to the first card of every FITS file
const HeaderVersion = "spectrolab-1"

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// SensorInfo is the JSON shape of GET /sensor
type SensorInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	PixelWidth float64 `json:"pixelWidth"`
}

// HTTPPicture injects HTTP methods into a route table for a camera.
// Thermal, sensor and identity routes are added when c implements
// camera.Sci, camera.Spectral or camera.Identifier.
func HTTPPicture(c cam.Minimal, table generichttp.RouteTable, rec *imgrec.Recorder) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = GetExposureTime(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = SetExposureTime(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/roi"}] = GetROI(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/roi"}] = SetROI(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}] = GetFrame(c, rec)

	if sci, ok := c.(cam.Sci); ok {
		thermal.HTTPController(sci, table)
		table[generichttp.MethodPath{Method: http.MethodGet, Path: "/temperature-status"}] = generichttp.GetString(sci.GetTemperatureStatus)
	}
	if spec, ok := c.(cam.Spectral); ok {
		table[generichttp.MethodPath{Method: http.MethodGet, Path: "/sensor"}] = GetSensor(spec)
	}
	if id, ok := c.(cam.Identifier); ok {
		table[generichttp.MethodPath{Method: http.MethodGet, Path: "/model"}] = generichttp.GetString(id.GetModel)
		table[generichttp.MethodPath{Method: http.MethodGet, Path: "/serial-number"}] = generichttp.GetString(id.GetSerialNumber)
	}
}

// ParseExposure parses an exposure time given as a duration string.
// A bare number is taken as seconds.
func ParseExposure(texp string) (time.Duration, error) {
	if util.AllElementsNumbers(texp) {
		texp = texp + "s"
	}
	return time.ParseDuration(texp)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(c cam.Minimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		var d time.Duration
		var err error
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = util.SecsToDuration(f.F64)
		} else {
			d, err = ParseExposure(texp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.SetExposureTime(d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time in seconds on a GET request
func GetExposureTime(c cam.Minimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := c.GetExposureTime()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: f.Seconds()}
		hp.EncodeAndRespond(w, r)
	}
}

// GetROI returns the region of interest as JSON
func GetROI(c cam.Minimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roi, err := c.GetROI()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.WriteJSON(w, roi)
	}
}

// SetROI sets the region of interest from a JSON body.  An ROI the camera
// rejects as invalid is a 400.
func SetROI(c cam.Minimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roi := cam.ROI{}
		err := json.NewDecoder(r.Body).Decode(&roi)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.SetROI(roi)
		if err != nil {
			code := http.StatusInternalServerError
			if _, ok := err.(cam.ErrBadROI); ok {
				code = http.StatusBadRequest
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetSensor returns the active size and pixel pitch of the sensor
func GetSensor(c cam.Spectral) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		width, height, err := c.ActiveSize()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		pw, err := c.PixelWidth()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.WriteJSON(w, SensorInfo{Width: width, Height: height, PixelWidth: pw})
	}
}

// headerCards returns the version card followed by any metadata c offers
func headerCards(c interface{}) []fitsio.Card {
	cards := []fitsio.Card{{Name: "HDRVER", Value: HeaderVersion, Comment: "header version"}}
	if carder, ok := c.(MetadataMaker); ok {
		cards = append(cards, carder.CollectHeaderMetadata()...)
	}
	return cards
}

// RespondFits writes a FITS file to w and, if rec is active, a copy to disk
func RespondFits(w http.ResponseWriter, cards []fitsio.Card, data []uint16, width, height int, rec *imgrec.Recorder) {
	buf := &bytes.Buffer{}
	err := WriteFits(buf, cards, data, width, height, 1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec != nil && rec.Active() {
		fn, err := rec.Record(func(f io.Writer) error {
			_, err := f.Write(buf.Bytes())
			return err
		})
		if err != nil {
			log.Warn().Err(err).Msg("autowrite failed")
		} else {
			log.Debug().Str("file", fn).Msg("autowrite")
		}
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "image/fits")
	hdr.Set("Content-Disposition", "attachment; filename=image.fits")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// frame reads a frame and the ROI that shapes it.  Cameras that cannot do
// both at once have the frame checked against the ROI read before it.
func frame(c cam.Minimal) ([]uint16, cam.ROI, error) {
	if f, ok := c.(cam.ROIFramer); ok {
		return f.GetFrameROI()
	}
	roi, err := c.GetROI()
	if err != nil {
		return nil, roi, err
	}
	img, err := c.GetFrame()
	if err != nil {
		return nil, roi, err
	}
	if w, h := roi.Size(); len(img) != w*h {
		return nil, roi, fmt.Errorf("frame has %d pixels but the %dx%d ROI implies %d; ROI changed during readout", len(img), w, h, w*h)
	}
	return img, roi, nil
}

// GetFrame takes a picture and returns it on a GET request.
//
// the image format may be specified in the fmt query parameter as jpg, png or
// fits; default to jpg.  jpg and png are stretched to 8 bits.
//
// the exposure time may be specified as a query parameter in any time-looking
// format, such as "25ms" or "10us".  if no unit is appended, an s (seconds)
// is added.  if no exposure time is provided the existing value is used.
func GetFrame(c cam.Minimal, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if texp := q.Get("exposureTime"); texp != "" {
			T, err := ParseExposure(texp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			err = c.SetExposureTime(T)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		img, roi, err := frame(c)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		width, height := roi.Size()

		switch format := q.Get("fmt"); format {
		case "", "jpg", "jpeg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.WriteHeader(http.StatusOK)
			jpeg.Encode(w, Stretch(img, width, height), nil)
		case "png":
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			png.Encode(w, Stretch(img, width, height))
		case "fits":
			RespondFits(w, headerCards(c), img, width, height, rec)
		default:
			http.Error(w, "unsupported format "+format, http.StatusBadRequest)
		}
	}
}
