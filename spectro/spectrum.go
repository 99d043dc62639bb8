package spectro

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"io"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Spectrum is a calibrated readout.  Data is row major with Width columns
// and Height rows; Wavelengths labels the columns.
type Spectrum struct {
	Wavelengths []float64 `json:"wavelengths"`
	Data        []float64 `json:"data"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`

	// Frames is the number of readouts averaged into Data
	Frames int `json:"frames"`

	Exposure time.Duration `json:"exposure"`
	Time     time.Time     `json:"time"`

	// Physical is the state of the spectrograph during the acquisition
	Physical Physical `json:"physical"`
}

// Is1D is true when either binned dimension of the readout is one
func (s Spectrum) Is1D() bool {
	return s.Width == 1 || s.Height == 1
}

// Row returns row j of the data
func (s Spectrum) Row(j int) []float64 {
	return s.Data[j*s.Width : (j+1)*s.Width]
}

// Profile sums the rows into a single spectrum
func (s Spectrum) Profile() []float64 {
	if s.Height == 1 {
		return append([]float64(nil), s.Data...)
	}
	out := make([]float64, s.Width)
	for j := 0; j < s.Height; j++ {
		floats.Add(out, s.Row(j))
	}
	return out
}

// Stats summarizes the profile of a spectrum
type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Sum    float64 `json:"sum"`

	// PeakWavelength is the wavelength of the brightest column
	PeakWavelength float64 `json:"peakWavelength"`

	// Centroid is the background subtracted intensity weighted mean wavelength
	Centroid float64 `json:"centroid"`
}

// Stats computes summary statistics of the profile
func (s Spectrum) Stats() Stats {
	prof := s.Profile()
	if len(prof) == 0 {
		return Stats{}
	}
	st := Stats{
		Min: floats.Min(prof),
		Max: floats.Max(prof),
		Sum: floats.Sum(prof),
	}
	st.Mean, st.StdDev = stat.MeanStdDev(prof, nil)
	if len(s.Wavelengths) == len(prof) {
		st.PeakWavelength = s.Wavelengths[floats.MaxIdx(prof)]
		weights := append([]float64(nil), prof...)
		floats.AddConst(-st.Min, weights)
		if floats.Sum(weights) > 0 {
			st.Centroid = stat.Mean(s.Wavelengths, weights)
		}
	}
	return st
}

// WriteCSV writes the spectrum with the wavelength in the first column and
// one column per row of data
func (s Spectrum) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"wavelength_nm"}
	for j := 0; j < s.Height; j++ {
		header = append(header, "row"+strconv.Itoa(j))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, s.Height+1)
	for i := 0; i < s.Width; i++ {
		rec[0] = strconv.FormatFloat(s.Wavelengths[i], 'f', 4, 64)
		for j := 0; j < s.Height; j++ {
			rec[j+1] = strconv.FormatFloat(s.Data[j*s.Width+i], 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePNG renders the profile against wavelength
func (s Spectrum) WritePNG(w io.Writer, width, height vg.Length) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%.3f nm, %v x %d", s.Physical.CentralWavelength, s.Exposure, s.Frames)
	p.X.Label.Text = "wavelength (nm)"
	p.Y.Label.Text = "counts"
	p.Add(plotter.NewGrid())

	prof := s.Profile()
	xys := make(plotter.XYs, len(prof))
	for i := range prof {
		xys[i].X = s.Wavelengths[i]
		xys[i].Y = prof[i]
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// WriteFits writes the data as a 64-bit float primary image, with the
// wavelength axis as an image extension named WAVELEN
func (s Spectrum) WriteFits(w io.Writer, cards []fitsio.Card) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	dims := []int{s.Width}
	if s.Height > 1 {
		dims = append(dims, s.Height)
	}
	im := fitsio.NewImage(-64, dims)
	defer im.Close()
	cards = append(cards,
		fitsio.Card{Name: "CENWAVE", Value: s.Physical.CentralWavelength, Comment: "central wavelength, nm"},
		fitsio.Card{Name: "GROOVES", Value: s.Physical.GrooveDensity, Comment: "groove density, g/mm"},
		fitsio.Card{Name: "FOCALLEN", Value: s.Physical.FocalLength, Comment: "focal length, mm"},
		fitsio.Card{Name: "HALFANG", Value: s.Physical.HalfAngle, Comment: "half angle, deg"},
		fitsio.Card{Name: "DETANG", Value: s.Physical.DetectorAngle, Comment: "detector angle, deg"},
		fitsio.Card{Name: "NFRAMES", Value: s.Frames, Comment: "frames averaged"},
		fitsio.Card{Name: "EXPTIME", Value: s.Exposure.Seconds(), Comment: "exposure time per frame, s"},
		fitsio.Card{Name: "DATE-OBS", Value: s.Time.UTC().Format(time.RFC3339), Comment: "acquisition time"},
	)
	if err = im.Header().Append(cards...); err != nil {
		return err
	}
	if err = im.Write(s.Data); err != nil {
		return err
	}
	if err = f.Write(im); err != nil {
		return err
	}

	wl := fitsio.NewImage(-64, []int{len(s.Wavelengths)})
	defer wl.Close()
	err = wl.Header().Append(
		fitsio.Card{Name: "EXTNAME", Value: "WAVELEN"},
		fitsio.Card{Name: "BUNIT", Value: "nm"})
	if err != nil {
		return err
	}
	if err = wl.Write(s.Wavelengths); err != nil {
		return err
	}
	return f.Write(wl)
}
