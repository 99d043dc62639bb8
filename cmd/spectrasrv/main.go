package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	yml "gopkg.in/yaml.v2"

	"github.com/labctl/spectrolab/comm"
	"github.com/labctl/spectrolab/picam"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "spectrasrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:  ":8000",
		Nodes: []ObjSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		// file missing, who cares
		if !errors.Is(err, os.ErrNotExist) && !strings.Contains(err.Error(), "no such") {
			log.Fatal().Err(err).Msg("error loading config")
		}
	}
}

func root() {
	str := `spectrasrv controls Princeton Instruments spectrometers and exposes an HTTP
interface to them.  The monochromator, the camera, and the pair of them as a
calibrated spectrometer can each be served.

Usage:
	spectrasrv <command>

Commands:
	run
	help
	mkconf
	conf
	version
	ports
	cameras`
	fmt.Println(str)
}

func help() {
	str := `spectrasrv is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration, the server will start with no nodes and serve
only /endpoints and /metrics.

No two endpoints can have the same URL.

URLs may look like any variation between "bench/spectro" or "/bench/spectro/",
the leading slash is added and the trailing slash removed if needed.

Mock: true replaces every device with a simulation; spectrometer nodes then
see the lines of a mercury-argon lamp move as the grating turns.

Node "type" fields, case insensitive:
- Acton SpectraPro 2150i, 2300i, 2500i monochromator
	> "spectrapro", "monochromator", "sp2500i", "sp2300i", "sp2150i"
	  Addr, Serial, Limits (wavelength: {Min, Max} in nm)
- Princeton Instruments camera via picam (build with -tags picam)
	> "picam", "camera"
	  CameraSerial, ExposureTime, ROI, Autowrite
- spectrometer, a SpectraPro with a picam camera on its exit port
	> "spectrometer", "spectro"
	  Addr, Serial, CameraSerial, ExposureTime, ROI, Autowrite

spectrasrv ports lists the serial ports of this machine, and spectrasrv
cameras the picam cameras connected to it.`
	fmt.Println(str)
}

func loadConfig() Config {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal().Err(err).Msg("parsing config")
	}
	return c
}

func mkconf() {
	c := loadConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal().Err(err).Msg("creating config file")
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal().Err(err).Msg("writing config file")
	}
}

func printconf() {
	c := loadConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal().Err(err).Msg("printing config")
	}
}

func pversion() {
	fmt.Printf("spectrasrv version %v\n", Version)
}

func ports() {
	names, err := comm.ListSerialPorts()
	if err != nil {
		log.Fatal().Err(err).Msg("listing serial ports")
	}
	if len(names) == 0 {
		fmt.Println("no serial ports found")
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func cameras() {
	c := loadConfig()
	var (
		ids []picam.CameraID
		err error
	)
	if c.Mock {
		ids = picam.MockCameras()
	} else {
		ids, err = picam.ListCameras()
		if err != nil {
			log.Fatal().Err(err).Msg("listing cameras")
		}
	}
	if len(ids) == 0 {
		fmt.Println("no cameras found")
	}
	for _, id := range ids {
		fmt.Printf("%s\t%s\t%s\n", id.SerialNumber, id.Model, id.SensorName)
	}
}

func run() {
	c := loadConfig()
	if c.Debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}
	mux, closers, err := BuildMux(c)
	if err != nil {
		log.Fatal().Err(err).Msg("building server")
	}
	defer closeAll(closers)

	srv := &http.Server{Addr: c.Addr, Handler: mux}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", c.Addr).Msg("now listening for requests")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited")
	}
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "version":
		pversion()
	case "ports":
		ports()
	case "cameras":
		cameras()
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
}
