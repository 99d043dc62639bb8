package spectrapro

import (
	"encoding/json"
	"net/http"

	"github.com/labctl/spectrolab/generichttp"
	"github.com/labctl/spectrolab/generichttp/ascii"
	"github.com/labctl/spectrolab/generichttp/motion"
)

// HTTPWrapper provides an HTTP interface to a monochromator
type HTTPWrapper struct {
	// Mono is the underlying monochromator
	Mono *Monochromator

	// RouteTable maps routes to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(m *Monochromator) HTTPWrapper {
	w := HTTPWrapper{Mono: m}
	rt := motion.NewHTTPMotionController(m).RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/grating"}] = generichttp.GetInt(m.GetGrating)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/grating"}] = generichttp.SetInt(m.SetGrating)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/gratings"}] = w.Gratings
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/turret"}] = generichttp.GetInt(m.GetTurret)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/turret"}] = generichttp.SetInt(m.SetTurret)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/exit-mirror"}] = generichttp.GetString(m.GetExitMirror)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/exit-mirror"}] = generichttp.SetString(m.SetExitMirror)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/scan-speed"}] = generichttp.GetFloat(m.GetScanSpeed)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/scan-speed"}] = generichttp.SetFloat(m.SetScanSpeed)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/scan"}] = generichttp.SetFloat(m.ScanTo)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/model"}] = generichttp.GetString(m.GetModel)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/serial-number"}] = generichttp.GetString(m.GetSerialNumber)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/calibration"}] = w.Calibration
	ascii.InjectRawComm(rt, m)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Gratings returns the gratings on the installed turret as a JSON array
func (h HTTPWrapper) Gratings(w http.ResponseWriter, r *http.Request) {
	g, err := h.Mono.GetGratings()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.WriteJSON(w, g)
}

// Calibration returns the optical constants and the raw report as JSON
func (h HTTPWrapper) Calibration(w http.ResponseWriter, r *http.Request) {
	c, err := h.Mono.GetOptics()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	lines, _ := h.Mono.GetCalibration()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		Calibration
		Report []string `json:"report"`
	}{c, lines})
}
