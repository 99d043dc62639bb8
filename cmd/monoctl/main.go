// monoctl is a command line client for Acton SpectraPro monochromators
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/theckman/yacspin"

	"github.com/labctl/spectrolab/spectrapro"
)

const usage = `monoctl talks to an Acton SpectraPro monochromator.

Usage:
	monoctl [flags] <command> [argument]

Commands:
	pos                  print the wavelength in nm
	goto <nm>            drive to a wavelength at full speed
	scan <nm>            drive to a wavelength at the scan speed, ctrl-c stops
	speed [nm/min]       print or set the scan speed
	grating [n]          print or select the grating
	gratings             list the gratings on the installed turret
	turret [n]           print or select the turret
	mirror [front|side]  print or move the exit mirror
	info                 model, serial number and optical constants
	raw <command>        send a command and print the reply

Flags:
`

// ctl runs commands against a monochromator.  spin may be nil.
type ctl struct {
	m    *spectrapro.Monochromator
	out  io.Writer
	spin *yacspin.Spinner
	poll time.Duration
}

func (c ctl) startSpin(msg string) {
	if c.spin == nil {
		return
	}
	c.spin.Message(msg)
	c.spin.Start()
}

func (c ctl) stopSpin(err error) {
	if c.spin == nil {
		return
	}
	if err != nil {
		c.spin.StopFail()
		return
	}
	c.spin.Stop()
}

func (c ctl) printPos() error {
	nm, err := c.m.GetPosition()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%.3f nm\n", nm)
	return nil
}

func arg(args []string) (string, bool) {
	if len(args) < 2 {
		return "", false
	}
	return strings.Join(args[1:], " "), true
}

func floatArg(args []string) (float64, error) {
	s, ok := arg(args)
	if !ok {
		return 0, fmt.Errorf("%s needs an argument", args[0])
	}
	return strconv.ParseFloat(s, 64)
}

// run executes one command; ctx stops a scan
func (c ctl) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("no command given")
	}
	switch strings.ToLower(args[0]) {
	case "pos":
		return c.printPos()

	case "goto":
		nm, err := floatArg(args)
		if err != nil {
			return err
		}
		c.startSpin(fmt.Sprintf("moving to %.3f nm", nm))
		err = c.m.SetPosition(nm)
		c.stopSpin(err)
		if err != nil {
			return err
		}
		return c.printPos()

	case "scan":
		nm, err := floatArg(args)
		if err != nil {
			return err
		}
		if err = c.m.ScanTo(nm); err != nil {
			return err
		}
		c.startSpin(fmt.Sprintf("scanning to %.3f nm", nm))
		err = c.waitScan(ctx)
		c.stopSpin(err)
		if err != nil {
			return err
		}
		return c.printPos()

	case "speed":
		if _, ok := arg(args); ok {
			v, err := floatArg(args)
			if err != nil {
				return err
			}
			return c.m.SetScanSpeed(v)
		}
		v, err := c.m.GetScanSpeed()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%.3f nm/min\n", v)
		return nil

	case "grating", "turret":
		set, get := c.m.SetGrating, c.m.GetGrating
		if strings.ToLower(args[0]) == "turret" {
			set, get = c.m.SetTurret, c.m.GetTurret
		}
		if s, ok := arg(args); ok {
			n, err := strconv.Atoi(s)
			if err != nil {
				return err
			}
			c.startSpin(fmt.Sprintf("changing %s to %d", args[0], n))
			err = set(n)
			c.stopSpin(err)
			return err
		}
		n, err := get()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, n)
		return nil

	case "gratings":
		gs, err := c.m.GetGratings()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\t#\tg/mm\tblaze")
		for _, g := range gs {
			mark := ""
			if g.Current {
				mark = "->"
			}
			if !g.Installed {
				fmt.Fprintf(tw, "%s\t%d\t-\tnot installed\n", mark, g.Index)
				continue
			}
			fmt.Fprintf(tw, "%s\t%d\t%.0f\t%s\n", mark, g.Index, g.Density, g.Blaze)
		}
		return tw.Flush()

	case "mirror":
		if s, ok := arg(args); ok {
			return c.m.SetExitMirror(s)
		}
		pos, err := c.m.GetExitMirror()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, pos)
		return nil

	case "info":
		model, err := c.m.GetModel()
		if err != nil {
			return err
		}
		sn, err := c.m.GetSerialNumber()
		if err != nil {
			return err
		}
		cal, err := c.m.GetOptics()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "model\t%s\n", model)
		fmt.Fprintf(tw, "serial number\t%s\n", sn)
		fmt.Fprintf(tw, "focal length\t%g mm\n", cal.FocalLength)
		fmt.Fprintf(tw, "half angle\t%g deg\n", cal.HalfAngle)
		fmt.Fprintf(tw, "detector angle\t%g deg\n", cal.DetectorAngle)
		return tw.Flush()

	case "raw":
		s, ok := arg(args)
		if !ok {
			return errors.New("raw needs a command")
		}
		reply, err := c.m.Raw(s)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, reply)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// waitScan polls until the scan completes, halting it if ctx is cancelled
func (c ctl) waitScan(ctx context.Context) error {
	tick := time.NewTicker(c.poll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := c.m.Halt(); err != nil {
				return err
			}
			return ctx.Err()
		case <-tick.C:
		}
		done, err := c.m.Done()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if c.spin != nil {
			if nm, err := c.m.GetPosition(); err == nil {
				c.spin.Message(fmt.Sprintf("%.3f nm", nm))
			}
		}
	}
}

func newSpinner() (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	var (
		addr  = flag.String("addr", "", "serial port or host:port of the monochromator")
		tcp   = flag.Bool("tcp", false, "connect over TCP, e.g. through a terminal server")
		mock  = flag.Bool("mock", false, "talk to an emulated monochromator")
		quiet = flag.Bool("q", false, "no spinner")
		poll  = flag.Duration("poll", 250*time.Millisecond, "polling interval during scans")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	var m *spectrapro.Monochromator
	switch {
	case *mock:
		m, _ = spectrapro.NewEmulated()
	case *addr == "":
		flag.Usage()
		os.Exit(2)
	default:
		m = spectrapro.NewMonochromator(*addr, !*tcp)
	}
	defer m.Close()

	c := ctl{m: m, out: os.Stdout, poll: *poll}
	if !*quiet {
		spin, err := newSpinner()
		if err != nil {
			log.Fatal().Err(err).Msg("creating spinner")
		}
		c.spin = spin
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := c.run(ctx, flag.Args()); err != nil {
		log.Error().Err(err).Msg(strings.Join(flag.Args(), " "))
		m.Close()
		os.Exit(1)
	}
}
