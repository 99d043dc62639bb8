// Package thermal exposes an HTTP interface to thermal controllers,
// here the thermoelectric cooler on a scientific camera
package thermal

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/labctl/spectrolab/generichttp"
)

// Controller is an interface to a thermal controller with a single channel
type Controller interface {
	// GetTemperatureSetpoint gets the temperature setpoint in Celcius
	GetTemperatureSetpoint() (float64, error)

	// SetTemperatureSetpoint sets the temperature setpoint in Celcius
	SetTemperatureSetpoint(float64) error

	// GetTemperature gets the temperature in Celcius
	GetTemperature() (float64, error)
}

// GetTemperatureSetpoint returns the temperature as JSON over HTTP
func GetTemperatureSetpoint(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setpt, err := c.GetTemperatureSetpoint()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: setpt}
		hp.EncodeAndRespond(w, r)
	}
}

// SetTemperatureSetpoint returns an HTTP handler func that sets the temperature setpoint over HTTP
func SetTemperatureSetpoint(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := generichttp.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.SetTemperatureSetpoint(f.F64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetTemperature returns an HTTP handler func that returns the temperature over HTTP
func GetTemperature(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := c.GetTemperature()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: t}
		hp.EncodeAndRespond(w, r)
	}
}

// HTTPController binds routes to control temperature to the table
func HTTPController(c Controller, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/temperature"}] = GetTemperature(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/temperature-setpoint"}] = GetTemperatureSetpoint(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/temperature-setpoint"}] = SetTemperatureSetpoint(c)
}
