/*
Package spectrapro provides an interface to Acton SpectraPro monochromators
from Princeton Instruments.

The 2500i is the reference; the 2150i and 2300i share its command set.  The
instrument talks over RS232 at 9600 baud.  Commands end in a carriage return
and every reply, including errors, ends in "ok\r\n".

Monochromator satisfies the interfaces of generichttp/motion on the single
axis "wavelength", in nm.
*/
package spectrapro

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tarm/serial"

	"github.com/labctl/spectrolab/comm"
	"github.com/labctl/spectrolab/generichttp/motion"
	"github.com/labctl/spectrolab/util"
)

const (
	// AxisWavelength is the only axis of a monochromator
	AxisWavelength = "wavelength"

	// DefaultTimeout bounds a transaction.  GOTO does not reply until the
	// grating has finished moving, which can take tens of seconds.
	DefaultTimeout = 2 * time.Minute

	// MaxGrating is the highest grating number, three turrets of three
	MaxGrating = 9

	// MaxTurret is the highest turret number
	MaxTurret = 3

	replySuffix = "ok\r\n"
)

var (
	// ErrBadAxis is returned when an axis other than AxisWavelength is used
	ErrBadAxis = fmt.Errorf("%w: monochromator axis must be %s", motion.ErrUnknownAxis, AxisWavelength)

	// ErrBadMirror is returned for a mirror position other than front or side
	ErrBadMirror = errors.New("mirror position must be front or side")
)

// ErrNotOK is returned when the instrument replies with anything other than
// a bare ok to a command
type ErrNotOK struct {
	Cmd   string
	Reply string
}

func (e ErrNotOK) Error() string {
	return fmt.Sprintf("command %q was not accepted, reply %q", e.Cmd, e.Reply)
}

// ErrCalibrationMissing is returned when a key is absent from the
// setup and calibration report
type ErrCalibrationMissing struct {
	Key string
}

func (e ErrCalibrationMissing) Error() string {
	return e.Key + " information not found in calibration information"
}

// ErrOutOfRange is returned when a grating or turret number is invalid
type ErrOutOfRange struct {
	What          string
	Value, Lo, Hi int
}

func (e ErrOutOfRange) Error() string {
	return fmt.Sprintf("%s number %d out of %d-%d range", e.What, e.Value, e.Lo, e.Hi)
}

// makeSerConf makes a new serial.Config with correct parity, baud, etc, set.
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Second}
}

// Monochromator is an Acton SpectraPro
type Monochromator struct {
	*comm.RemoteDevice

	calMu       sync.Mutex
	calibration []string
}

// NewMonochromator returns a new Monochromator.  Serial connections are held
// open for the life of the object, TCP (portserver) connections are closed
// when idle.
func NewMonochromator(addr string, serial bool) *Monochromator {
	terms := comm.Terminators{Rx: '\n', Tx: '\r'}
	rd := comm.NewRemoteDevice(addr, serial, &terms, makeSerConf(addr))
	rd.Timeout = DefaultTimeout
	if serial {
		rd.IdleTimeout = 0
	}
	return &Monochromator{RemoteDevice: &rd}
}

// cleanReply removes an echo of cmd and surrounding whitespace
func cleanReply(cmd, reply string) string {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, cmd)
	return strings.TrimSpace(reply)
}

// transact sends cmd and returns the cleaned body of the reply
func (m *Monochromator) transact(cmd string) (string, error) {
	m.Lock()
	defer func() {
		m.Unlock()
		m.CloseEventually()
	}()
	err := m.Open()
	if err != nil {
		return "", err
	}
	if dumped := m.Drain(); len(dumped) > 0 {
		log.Warn().Str("addr", m.Addr).Msgf("dumped IO-buffer content: %q", dumped)
	}
	resp, err := m.SendRecvUntil([]byte(cmd), []byte(replySuffix))
	if err != nil {
		// a late reply must not answer the next command
		if rerr := m.Reset(); rerr != nil {
			log.Warn().Err(rerr).Str("addr", m.Addr).Msg("resetting connection")
		}
		return "", err
	}
	body := cleanReply(cmd, string(resp))
	if body == "?" || strings.HasSuffix(body, " ?") {
		return "", ErrNotOK{Cmd: cmd, Reply: body}
	}
	return body, nil
}

// set sends a command whose only acceptable reply is ok
func (m *Monochromator) set(cmd string) error {
	body, err := m.transact(cmd)
	if err != nil {
		return err
	}
	if body != "" {
		return ErrNotOK{Cmd: cmd, Reply: body}
	}
	return nil
}

func (m *Monochromator) queryFloat(cmd string) (float64, error) {
	body, err := m.transact(cmd)
	if err != nil {
		return 0, err
	}
	f, ok := util.FirstFloat(body)
	if !ok {
		return 0, fmt.Errorf("no number in reply %q to %s", body, cmd)
	}
	return f, nil
}

func (m *Monochromator) queryInt(cmd string) (int, error) {
	body, err := m.transact(cmd)
	if err != nil {
		return 0, err
	}
	i, ok := util.FirstInt(body)
	if !ok {
		return 0, fmt.Errorf("no integer in reply %q to %s", body, cmd)
	}
	return i, nil
}

func (m *Monochromator) queryWord(cmd string) (string, error) {
	body, err := m.transact(cmd)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty reply to %s", cmd)
	}
	return fields[0], nil
}

// Raw sends a command and returns the body of the reply
func (m *Monochromator) Raw(cmd string) (string, error) {
	return m.transact(cmd)
}

// GetPosition returns the current center wavelength in nm
func (m *Monochromator) GetPosition() (float64, error) {
	return m.queryFloat("?NM")
}

// SetPosition drives to a wavelength at maximum speed and returns once the
// grating has arrived
func (m *Monochromator) SetPosition(nm float64) error {
	return m.set(fmt.Sprintf("%.3f GOTO", nm))
}

// ScanTo begins a move to a wavelength at the scan speed and returns
// immediately.  Use GetInPosition to poll for completion.
func (m *Monochromator) ScanTo(nm float64) error {
	return m.set(fmt.Sprintf("%.3f >NM", nm))
}

// Done returns true when a scan begun by ScanTo has finished
func (m *Monochromator) Done() (bool, error) {
	i, err := m.queryInt("MONO-?DONE")
	return i == 1, err
}

// Halt stops a scan in progress
func (m *Monochromator) Halt() error {
	return m.set("MONO-STOP")
}

// GetScanSpeed returns the scan speed in nm/min
func (m *Monochromator) GetScanSpeed() (float64, error) {
	return m.queryFloat("?NM/MIN")
}

// SetScanSpeed sets the scan speed in nm/min
func (m *Monochromator) SetScanSpeed(nmPerMin float64) error {
	return m.set(fmt.Sprintf("%.3f NM/MIN", nmPerMin))
}

// GetGrating returns the number of the grating in use
func (m *Monochromator) GetGrating() (int, error) {
	return m.queryInt("?GRATING")
}

// SetGrating selects a grating, 1-9.  Gratings 4-6 and 7-9 are on the second
// and third turret; selecting one moves the turret.
func (m *Monochromator) SetGrating(n int) error {
	if n < 1 || n > MaxGrating {
		return ErrOutOfRange{What: "grating", Value: n, Lo: 1, Hi: MaxGrating}
	}
	return m.set(fmt.Sprintf("%d GRATING", n))
}

// GetGratings returns the gratings on the installed turret
func (m *Monochromator) GetGratings() ([]Grating, error) {
	body, err := m.transact("?GRATINGS")
	if err != nil {
		return nil, err
	}
	return ParseGratings(body), nil
}

// GetTurret returns the number of the installed turret
func (m *Monochromator) GetTurret() (int, error) {
	return m.queryInt("?TURRET")
}

// SetTurret selects a turret, 1-3
func (m *Monochromator) SetTurret(n int) error {
	if n < 1 || n > MaxTurret {
		return ErrOutOfRange{What: "turret", Value: n, Lo: 1, Hi: MaxTurret}
	}
	return m.set(fmt.Sprintf("%d TURRET", n))
}

// EnsureExitMirror directs subsequent mirror commands to the exit diverter
func (m *Monochromator) EnsureExitMirror() error {
	return m.set("EXIT-MIRROR")
}

// GetMirror returns the position of the diverter mirror, front or side
func (m *Monochromator) GetMirror() (string, error) {
	pos, err := m.queryWord("?MIRROR")
	if err != nil {
		return "", err
	}
	pos = strings.ToLower(pos)
	if pos != "front" && pos != "side" {
		return "", fmt.Errorf("%w: got %q, is the exit mirror selected", ErrBadMirror, pos)
	}
	return pos, nil
}

// SetMirror moves the diverter mirror to front or side
func (m *Monochromator) SetMirror(pos string) error {
	switch strings.ToLower(pos) {
	case "front":
		return m.set("FRONT")
	case "side":
		return m.set("SIDE")
	default:
		return fmt.Errorf("%w: got %q", ErrBadMirror, pos)
	}
}

// SetExitMirror selects the exit mirror and moves it to front or side
func (m *Monochromator) SetExitMirror(pos string) error {
	err := m.EnsureExitMirror()
	if err != nil {
		return err
	}
	return m.SetMirror(pos)
}

// GetExitMirror selects the exit mirror and returns its position
func (m *Monochromator) GetExitMirror() (string, error) {
	if err := m.EnsureExitMirror(); err != nil {
		return "", err
	}
	return m.GetMirror()
}

// GetModel returns the model, e.g. SP-2-500i
func (m *Monochromator) GetModel() (string, error) {
	return m.queryWord("MODEL")
}

// GetSerialNumber returns the serial number of the instrument
func (m *Monochromator) GetSerialNumber() (string, error) {
	return m.queryWord("SERIAL")
}
