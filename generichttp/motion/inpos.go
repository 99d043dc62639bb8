package motion

import (
	"go/types"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/labctl/spectrolab/generichttp"
)

// InPositionQueryer reports whether an axis has finished moving, for the
// monochromator whether the last scan is done
type InPositionQueryer interface {
	GetInPosition(string) (bool, error)
}

// HTTPInPosition adds GET /axis/{axis}/inposition to the table
func HTTPInPosition(iface InPositionQueryer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/inposition"}] = GetInPosition(iface)
}

// GetInPosition answers with {"bool": done}
func GetInPosition(i InPositionQueryer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		done, err := i.GetInPosition(chi.URLParam(r, "axis"))
		if err != nil {
			axisError(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Bool, Bool: done}
		hp.EncodeAndRespond(w, r)
	}
}
