package spectrapro

import (
	"strconv"
	"strings"
)

// currentMarker is the byte the instrument puts in front of the grating in use
const currentMarker = "\x1a"

// Grating is one line of the ?GRATINGS report
type Grating struct {
	// Index is the grating number, 1-9
	Index int `json:"index"`

	// Density is the groove density in grooves/mm, zero when not installed
	Density float64 `json:"density"`

	// Blaze is the blaze as reported, e.g. "500NM" or "1.0UM"
	Blaze string `json:"blaze"`

	Installed bool `json:"installed"`

	// Current is true for the grating in use
	Current bool `json:"current"`

	// Label is the line as reported, with the current marker shown as "->"
	Label string `json:"label"`
}

// ParseGratings parses the body of a ?GRATINGS reply.  Lines that do not
// start with a grating number are skipped.
func ParseGratings(body string) []Grating {
	var out []Grating
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, currentMarker, "->"))
		if line == "" {
			continue
		}
		g := Grating{Label: line}
		rest := line
		if strings.HasPrefix(rest, "->") {
			g.Current = true
			rest = strings.TrimPrefix(rest, "->")
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		g.Index = idx
		if len(fields) > 1 {
			if d, err := strconv.ParseFloat(fields[1], 64); err == nil {
				g.Density = d
				g.Installed = true
			}
		}
		for i, f := range fields {
			if strings.HasPrefix(f, "BLZ=") {
				g.Blaze = strings.TrimPrefix(f, "BLZ=")
				if g.Blaze == "" && i+1 < len(fields) {
					g.Blaze = fields[i+1]
				}
			}
		}
		out = append(out, g)
	}
	return out
}

// CurrentGrating returns the grating marked as in use
func CurrentGrating(gratings []Grating) (Grating, bool) {
	for _, g := range gratings {
		if g.Current {
			return g, true
		}
	}
	return Grating{}, false
}

// ParseCalibrationValue finds the line of a MONO-EESTATUS report that begins
// with key and returns its last field as a float
func ParseCalibrationValue(lines []string, key string) (float64, error) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, key) {
			continue
		}
		fields := strings.Fields(line)
		return strconv.ParseFloat(fields[len(fields)-1], 64)
	}
	return 0, ErrCalibrationMissing{Key: key}
}

// Calibration holds the optical constants reported by the instrument
type Calibration struct {
	// FocalLength is in mm
	FocalLength float64 `json:"focalLength"`

	// HalfAngle is half the included angle in degrees
	HalfAngle float64 `json:"halfAngle"`

	// DetectorAngle is the tilt of the focal plane in degrees
	DetectorAngle float64 `json:"detectorAngle"`
}

// GetCalibration returns the lines of the setup and calibration report.
// The report is read once and cached.
func (m *Monochromator) GetCalibration() ([]string, error) {
	m.calMu.Lock()
	defer m.calMu.Unlock()
	if m.calibration != nil {
		return m.calibration, nil
	}
	body, err := m.transact("MONO-EESTATUS")
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	m.calibration = lines
	return lines, nil
}

func (m *Monochromator) calibrationValue(key string) (float64, error) {
	lines, err := m.GetCalibration()
	if err != nil {
		return 0, err
	}
	return ParseCalibrationValue(lines, key)
}

// FocalLength returns the focal length in mm
func (m *Monochromator) FocalLength() (float64, error) {
	return m.calibrationValue("focal length")
}

// HalfAngle returns the half angle in degrees
func (m *Monochromator) HalfAngle() (float64, error) {
	return m.calibrationValue("half angle")
}

// DetectorAngle returns the detector angle in degrees
func (m *Monochromator) DetectorAngle() (float64, error) {
	return m.calibrationValue("detector angle")
}

// GetOptics returns the focal length, half angle and detector angle
func (m *Monochromator) GetOptics() (Calibration, error) {
	var (
		c   Calibration
		err error
	)
	if c.FocalLength, err = m.FocalLength(); err != nil {
		return c, err
	}
	if c.HalfAngle, err = m.HalfAngle(); err != nil {
		return c, err
	}
	c.DetectorAngle, err = m.DetectorAngle()
	return c, err
}
