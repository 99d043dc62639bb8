package spectrapro

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EmulatedGrating describes a grating in the emulator
type EmulatedGrating struct {
	Density float64
	Blaze   string
}

// Emulator is an in-process SpectraPro.  It speaks the wire protocol, so a
// Monochromator pointed at it exercises the same code as real hardware.
type Emulator struct {
	mu sync.Mutex

	// Model and Serial are reported by MODEL and SERIAL
	Model  string
	Serial string

	// FocalLength, HalfAngle and DetectorAngle appear in MONO-EESTATUS
	FocalLength, HalfAngle, DetectorAngle float64

	// Turrets holds three gratings per turret, an empty density is not installed
	Turrets [MaxTurret][3]EmulatedGrating

	// GotoDelay is how long GOTO takes to reply
	GotoDelay time.Duration

	pos       float64
	speed     float64
	grating   int
	mirror    string
	exitSel   bool
	scanFrom  float64
	scanTo    float64
	scanStart time.Time
	scanning  bool
	now       func() time.Time
}

// NewEmulator returns an emulated SP-2-500i at 0 nm with grating 1 in use
func NewEmulator() *Emulator {
	e := &Emulator{
		Model:         "SP-2-500i",
		Serial:        "25001234",
		FocalLength:   500,
		HalfAngle:     15.1,
		DetectorAngle: 0,
		speed:         100,
		grating:       1,
		mirror:        "front",
		now:           time.Now,
	}
	e.Turrets[0] = [3]EmulatedGrating{{300, "500NM"}, {1200, "750NM"}, {150, "800NM"}}
	e.Turrets[1] = [3]EmulatedGrating{{600, "1.0UM"}, {1800, "500NM"}, {}}
	return e
}

// Dial returns a new connection to the emulator.  Its signature matches
// comm.CreationFunc.
func (e *Emulator) Dial() (io.ReadWriteCloser, error) {
	c := &emuConn{emu: e}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// Position returns the current wavelength, accounting for a scan in progress
func (e *Emulator) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position()
}

// Mirror returns the position of the exit mirror
func (e *Emulator) Mirror() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mirror
}

// Grating returns the grating in use
func (e *Emulator) Grating() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grating
}

// CurrentDensity returns the groove density of the grating in use
func (e *Emulator) CurrentDensity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Turrets[(e.grating-1)/3][(e.grating-1)%3].Density
}

// position must be called with e.mu held
func (e *Emulator) position() float64 {
	if !e.scanning {
		return e.pos
	}
	elapsed := e.now().Sub(e.scanStart).Minutes()
	travel := e.speed * elapsed
	dist := e.scanTo - e.scanFrom
	if travel >= math.Abs(dist) {
		e.scanning = false
		e.pos = e.scanTo
		return e.pos
	}
	return e.scanFrom + math.Copysign(travel, dist)
}

func (e *Emulator) gratingLines() []string {
	turret := (e.grating - 1) / 3
	var lines []string
	for i, g := range e.Turrets[turret] {
		n := turret*3 + i + 1
		marker := " "
		if n == e.grating {
			marker = currentMarker
		}
		if g.Density == 0 {
			lines = append(lines, fmt.Sprintf("%s%d  Not Installed", marker, n))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s%d  %4.0f g/mm BLZ=  %s", marker, n, g.Density, g.Blaze))
	}
	return lines
}

// handle executes one command and returns the reply, including "ok\r\n"
func (e *Emulator) handle(cmd string) string {
	const bad = " ?  ok\r\n"
	single := func(body string) string { return " " + body + "  ok\r\n" }
	multi := func(lines []string) string { return "\r\n" + strings.Join(lines, "\r\n") + "\r\n ok\r\n" }
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return bad
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(fields) == 2 {
		arg := fields[0]
		switch strings.ToUpper(fields[1]) {
		case "GOTO":
			nm, err := strconv.ParseFloat(arg, 64)
			if err != nil || nm < 0 {
				return bad
			}
			e.scanning = false
			e.pos = nm
			if e.GotoDelay > 0 {
				e.mu.Unlock()
				time.Sleep(e.GotoDelay)
				e.mu.Lock()
			}
			return "  ok\r\n"
		case ">NM":
			nm, err := strconv.ParseFloat(arg, 64)
			if err != nil || nm < 0 {
				return bad
			}
			e.scanFrom = e.position()
			e.scanTo = nm
			e.scanStart = e.now()
			e.scanning = true
			return "  ok\r\n"
		case "NM/MIN":
			s, err := strconv.ParseFloat(arg, 64)
			if err != nil || s <= 0 {
				return bad
			}
			e.speed = s
			return "  ok\r\n"
		case "GRATING":
			n, err := strconv.Atoi(arg)
			if err != nil || n < 1 || n > MaxGrating {
				return bad
			}
			e.grating = n
			return "  ok\r\n"
		case "TURRET":
			n, err := strconv.Atoi(arg)
			if err != nil || n < 1 || n > MaxTurret {
				return bad
			}
			e.grating = (n-1)*3 + 1
			return "  ok\r\n"
		}
		return bad
	}

	switch strings.ToUpper(fields[0]) {
	case "?NM":
		return single(fmt.Sprintf("%.3f nm", e.position()))
	case "?NM/MIN":
		return single(fmt.Sprintf("%.3f nm/min", e.speed))
	case "?GRATING":
		return single(strconv.Itoa(e.grating))
	case "?TURRET":
		return single(strconv.Itoa((e.grating-1)/3 + 1))
	case "?GRATINGS":
		return multi(e.gratingLines())
	case "EXIT-MIRROR":
		e.exitSel = true
		return "  ok\r\n"
	case "?MIRROR":
		if !e.exitSel {
			return single("entrance")
		}
		return single(e.mirror)
	case "FRONT", "SIDE":
		if !e.exitSel {
			return bad
		}
		e.mirror = strings.ToLower(fields[0])
		return "  ok\r\n"
	case "MODEL":
		return single(e.Model)
	case "SERIAL":
		return single(e.Serial)
	case "MONO-?DONE":
		done := 1
		e.position()
		if e.scanning {
			done = 0
		}
		return single(strconv.Itoa(done))
	case "MONO-STOP":
		e.pos = e.position()
		e.scanning = false
		return "  ok\r\n"
	case "MONO-EESTATUS":
		return multi([]string{
			"SETUP INFO",
			"model " + e.Model,
			"serial number " + e.Serial,
			fmt.Sprintf("focal length %g", e.FocalLength),
			fmt.Sprintf("half angle %g", e.HalfAngle),
			fmt.Sprintf("detector angle %g", e.DetectorAngle),
		})
	}
	return bad
}

// emuConn is one connection to an Emulator
type emuConn struct {
	emu *Emulator

	mu     sync.Mutex
	cond   *sync.Cond
	in     []byte
	out    []byte
	closed bool
}

// Write accepts command bytes; each carriage return executes a command
func (c *emuConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	c.in = append(c.in, p...)
	var cmds []string
	for {
		i := strings.IndexByte(string(c.in), '\r')
		if i < 0 {
			break
		}
		cmds = append(cmds, string(c.in[:i]))
		c.in = c.in[i+1:]
	}
	c.mu.Unlock()

	for _, cmd := range cmds {
		reply := c.emu.handle(cmd)
		c.mu.Lock()
		c.out = append(c.out, reply...)
		c.cond.Broadcast()
		c.mu.Unlock()
	}
	return len(p), nil
}

// Read blocks until a reply is available or the connection is closed
func (c *emuConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.out) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.out) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}

func (c *emuConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// NewEmulated returns a Monochromator connected to a new Emulator
func NewEmulated() (*Monochromator, *Emulator) {
	emu := NewEmulator()
	m := NewMonochromator("emulator", true)
	m.Maker = emu.Dial
	return m, emu
}
