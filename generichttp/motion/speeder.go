package motion

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/labctl/spectrolab/generichttp"
)

// Speeder has a settable scan rate; the monochromator's is in nm/min and
// applies to scans, not to GOTO moves
type Speeder interface {
	SetVelocity(string, float64) error
	GetVelocity(string) (float64, error)
}

// HTTPSpeed adds the velocity routes to the table
func HTTPSpeed(iface Speeder, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/velocity"}] = GetVelocity(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/velocity"}] = SetVelocity(iface)
}

// SetVelocity answers POST /axis/{axis}/velocity {"f64": rate}
func SetVelocity(s Speeder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := generichttp.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = s.SetVelocity(chi.URLParam(r, "axis"), f.F64); err != nil {
			axisError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetVelocity answers GET /axis/{axis}/velocity with {"f64": rate}
func GetVelocity(s Speeder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.GetVelocity(chi.URLParam(r, "axis"))
		if err != nil {
			axisError(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: v}
		hp.EncodeAndRespond(w, r)
	}
}
