// Package ascii contains some injectable HTTP interfaces to ASCII hardware
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/labctl/spectrolab/generichttp"
)

// RawRequestsPerSecond bounds how often /raw may be hit by a single client,
// raw commands go straight to the instrument and can flood a 9600 baud link
const RawRequestsPerSecond = 10

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper is a wrapper around a raw communicator
type RawWrapper struct {
	Comm RawCommunicator
}

// HTTPRaw provides access to the raw function over http
func (rw *RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := rw.Comm.Raw(str.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm injects a rate limited /raw POST route into the route table
func InjectRawComm(rt generichttp.RouteTable, raw RawCommunicator) {
	wrap := RawWrapper{Comm: raw}
	limited := httprate.LimitByIP(RawRequestsPerSecond, time.Second)(http.HandlerFunc(wrap.HTTPRaw))
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = limited.ServeHTTP
}
