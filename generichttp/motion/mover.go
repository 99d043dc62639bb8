package motion

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/labctl/spectrolab/generichttp"
)

// ErrUnknownAxis is wrapped by drivers when a request names an axis they do
// not have; handlers answer it with 404
var ErrUnknownAxis = errors.New("unknown axis")

// Mover is a drive with one or more named axes, for a grating drive the
// single axis "wavelength" in nm
type Mover interface {
	// GetPos returns the position of the axis
	GetPos(string) (float64, error)

	// MoveAbs drives the axis to a position and returns on arrival
	MoveAbs(string, float64) error

	// MoveRel drives the axis by an offset from where it is
	MoveRel(string, float64) error

	// Home drives the axis to its reference, zero order for a grating
	Home(string) error
}

// HTTPMove adds the position and home routes to the table
func HTTPMove(iface Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = GetPos(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = SetPos(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/home"}] = Home(iface)
}

// axisError writes err with 404 for an unknown axis and 500 otherwise
func axisError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, ErrUnknownAxis) {
		code = http.StatusNotFound
	}
	http.Error(w, err.Error(), code)
}

// GetPos answers GET /axis/{axis}/pos with the position as {"f64": nm}
func GetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pos, err := m.GetPos(chi.URLParam(r, "axis"))
		if err != nil {
			axisError(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: pos}
		hp.EncodeAndRespond(w, r)
	}
}

// popAxisRelative returns the axis URL parameter and the relative query
// parameter, false when absent
func popAxisRelative(r *http.Request) (string, bool, error) {
	axis := chi.URLParam(r, "axis")
	rel := r.URL.Query().Get("relative")
	if rel == "" {
		return axis, false, nil
	}
	b, err := strconv.ParseBool(rel)
	return axis, b, err
}

// SetPos answers POST /axis/{axis}/pos {"f64": nm}.  With ?relative=true
// the value is an offset from the current position.  The response is sent
// once the move completes.
func SetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, rel, err := popAxisRelative(r)
		if err != nil {
			http.Error(w, "relative: "+err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rel {
			err = m.MoveRel(axis, f.F64)
		} else {
			err = m.MoveAbs(axis, f.F64)
		}
		if err != nil {
			axisError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Home answers POST /axis/{axis}/home
func Home(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Home(chi.URLParam(r, "axis")); err != nil {
			axisError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
