package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/labctl/spectrolab/camera"
	"github.com/labctl/spectrolab/generichttp"
	gcam "github.com/labctl/spectrolab/generichttp/camera"
	"github.com/labctl/spectrolab/generichttp/motion"
	"github.com/labctl/spectrolab/imgrec"
	"github.com/labctl/spectrolab/picam"
	"github.com/labctl/spectrolab/server/middleware/locker"
	"github.com/labctl/spectrolab/spectrapro"
	"github.com/labctl/spectrolab/spectro"
	"github.com/labctl/spectrolab/util"
)

// Autowrite configures an image recorder for a camera or spectrometer node
type Autowrite struct {
	// Root is the folder below which yyyy-mm-dd folders are made
	Root string `yaml:"Root"`

	// Prefix is prepended to the counter in each filename
	Prefix string `yaml:"Prefix"`

	// Enabled turns recording on at startup
	Enabled bool `yaml:"Enabled"`
}

// ObjSetup holds the parameters to construct one node
type ObjSetup struct {
	// Addr holds the address of the monochromator, e.g. /dev/ttyUSB0 or
	// COM3 for a direct serial connection, or 192.168.100.123:2006 for a
	// terminal server.  Unused by picam nodes.
	Addr string `yaml:"Addr"`

	// Endpoint is the URL prefix the node's routes are served under,
	// e.g. Endpoint="/bench/spectro" gives /bench/spectro/wavelength, etc.
	Endpoint string `yaml:"Endpoint"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`

	// Type is the kind of node: spectrapro, picam or spectrometer
	Type string `yaml:"Type"`

	// CameraSerial selects a picam camera; empty opens the first one found
	CameraSerial string `yaml:"CameraSerial"`

	// ExposureTime, if nonzero, is applied to the camera at startup
	ExposureTime time.Duration `yaml:"ExposureTime"`

	// ROI, if given, is applied to the camera at startup
	ROI *camera.ROI `yaml:"ROI"`

	// Limits are software limits on the wavelength axis of a spectrapro node
	Limits map[string]util.Limiter `yaml:"Limits"`

	Autowrite Autowrite `yaml:"Autowrite"`
}

// Config is a struct that holds the initialization parameters for the
// server and its nodes.  It is populated from the YAML file by koanf.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock substitutes the emulated monochromator and the mock camera for
	// hardware
	Mock bool `yaml:"Mock"`

	// Debug turns on debug logging
	Debug bool `yaml:"Debug"`

	// Nodes is the list of nodes to set up
	Nodes []ObjSetup `yaml:"Nodes"`
}

// routes is a route table with no device-specific wrapper
type routes generichttp.RouteTable

func (r routes) RT() generichttp.RouteTable {
	return generichttp.RouteTable(r)
}

// builder holds the devices made while building the mux, so a monochromator
// shared by a spectrapro and a spectrometer node is opened once
type builder struct {
	mock    bool
	monos   map[string]*spectrapro.Monochromator
	emus    map[string]*spectrapro.Emulator
	closers []io.Closer
}

func (b *builder) mono(addr string, serial bool) (*spectrapro.Monochromator, *spectrapro.Emulator) {
	if m, ok := b.monos[addr]; ok {
		return m, b.emus[addr]
	}
	var (
		m   *spectrapro.Monochromator
		emu *spectrapro.Emulator
	)
	if b.mock {
		m, emu = spectrapro.NewEmulated()
		m.Addr = addr
		b.emus[addr] = emu
	} else {
		m = spectrapro.NewMonochromator(addr, serial)
	}
	b.monos[addr] = m
	b.closers = append(b.closers, closerFunc(m.Close))
	return m, emu
}

func (b *builder) camera(serial string) (picam.Device, error) {
	if b.mock {
		return picam.NewMock(time.Now().UnixNano()), nil
	}
	return picam.Open(serial)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func recorder(a Autowrite) *imgrec.Recorder {
	rec := imgrec.New(a.Root, a.Prefix)
	rec.Enabled = a.Enabled
	return rec
}

// configureCamera applies a startup exposure time and ROI; zero values
// leave the camera as it is
func configureCamera(c camera.Minimal, texp time.Duration, roi *camera.ROI) error {
	if texp > 0 {
		if err := c.SetExposureTime(texp); err != nil {
			return err
		}
	}
	if roi != nil {
		if err := c.SetROI(*roi); err != nil {
			return err
		}
	}
	return nil
}

// mockLamp shines a mercury-argon lamp through the emulated monochromator
// onto the mock camera
func mockLamp(cam *picam.Mock, emu *spectrapro.Emulator) {
	w, h, _ := cam.ActiveSize()
	pw, _ := cam.PixelWidth()
	lamp := spectro.Lamp{
		Lines:       spectro.MercuryArgon,
		Resolution:  2.5,
		SlitHeight:  float64(h) / 3,
		PixelWidth:  pw,
		ActiveWidth: w,
		ActiveRows:  h,
		Phys: func() spectro.Physical {
			return spectro.Physical{
				FocalLength:       emu.FocalLength,
				HalfAngle:         emu.HalfAngle,
				DetectorAngle:     emu.DetectorAngle,
				CentralWavelength: emu.Position(),
				GrooveDensity:     emu.CurrentDensity(),
			}
		},
	}
	cam.Source = lamp.Source()
}

// BuildMux constructs a chi router serving every node in the config.
// The router serves /endpoints, a JSON map of node prefix to routes, and
// /metrics.  The returned closers release the hardware.
func BuildMux(c Config) (chi.Router, []io.Closer, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	b := &builder{
		mock:  c.Mock,
		monos: map[string]*spectrapro.Monochromator{},
		emus:  map[string]*spectrapro.Emulator{},
	}

	fail := func(node ObjSetup, err error) (chi.Router, []io.Closer, error) {
		closeAll(b.closers)
		return nil, nil, fmt.Errorf("node %s (%s): %w", node.Endpoint, node.Type, err)
	}

	for _, node := range c.Nodes {
		var (
			httper      generichttp.HTTPer
			middlewares []func(http.Handler) http.Handler
		)
		typ := strings.ToLower(node.Type)
		switch typ {
		case "spectrapro", "monochromator", "sp2500i", "sp2300i", "sp2150i":
			mono, _ := b.mono(node.Addr, node.Serial)
			limiter := motion.LimitMiddleware{Limits: node.Limits, Mov: mono}
			httper = spectrapro.NewHTTPWrapper(mono)
			middlewares = append(middlewares, limiter.Check)
			limiter.Inject(httper)

		case "picam", "camera":
			cam, err := b.camera(node.CameraSerial)
			if err != nil {
				return fail(node, err)
			}
			if err = cam.Initialize(); err != nil {
				return fail(node, err)
			}
			b.closers = append(b.closers, closerFunc(cam.Finalize))
			if err = configureCamera(cam, node.ExposureTime, node.ROI); err != nil {
				return fail(node, err)
			}
			rec := recorder(node.Autowrite)
			rt := generichttp.RouteTable{}
			gcam.HTTPPicture(cam, rt, rec)
			httper = routes(rt)
			imgrec.NewHTTPWrapper(rec).Inject(httper)

		case "spectrometer", "spectro":
			cam, err := b.camera(node.CameraSerial)
			if err != nil {
				return fail(node, err)
			}
			mono, emu := b.mono(node.Addr, node.Serial)
			if mock, ok := cam.(*picam.Mock); ok && emu != nil {
				mockLamp(mock, emu)
			}
			spec := spectro.New(cam, mono)
			if err = spec.Initialize(); err != nil {
				return fail(node, err)
			}
			b.closers = append(b.closers, closerFunc(spec.Close))
			if err = configureCamera(cam, node.ExposureTime, nil); err != nil {
				return fail(node, err)
			}
			if node.ROI != nil {
				if err = spec.SetROI(*node.ROI); err != nil {
					return fail(node, err)
				}
			}
			httper = spectro.NewHTTPWrapper(spec, recorder(node.Autowrite))

		default:
			return fail(node, fmt.Errorf("type %q not understood", node.Type))
		}

		// prepare the URL, "bench/spectro" => "/bench/spectro"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		if _, dup := supergraph[hndlS]; dup {
			return fail(node, fmt.Errorf("endpoint %s used twice", hndlS))
		}

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(httper, lock)
		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(middlewares...)
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
		log.Info().Str("endpoint", hndlS).Str("type", typ).Bool("mock", c.Mock).Msg("node ready")
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Handle("/metrics", promhttp.Handler())
	return root, b.closers, nil
}

// closeAll closes in reverse order of creation, logging failures
func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("closing device")
		}
	}
}
