package motion

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/labctl/spectrolab/generichttp"
)

// Stopper can halt an axis mid-move; a monochromator can only halt a scan
type Stopper interface {
	Stop(string) error
}

// HTTPStop adds POST /axis/{axis}/stop to the table
func HTTPStop(iface Stopper, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/stop"}] = Stop(iface)
}

// Stop answers POST /axis/{axis}/stop
func Stop(s Stopper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Stop(chi.URLParam(r, "axis")); err != nil {
			axisError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
