package camera

import (
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFits streams a 16-bit fits file to w.  Data is row major and strided
// by width; nframes > 1 adds a third axis.  Unsigned data is stored with the
// usual BZERO offset.
func WriteFits(w io.Writer, metadata []fitsio.Card, data []uint16, width, height, nframes int) error {
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if nframes > 1 {
		dims = append(dims, nframes)
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	ints := make([]int16, len(data))
	for idx, v := range data {
		ints[idx] = int16(int32(v) - 32768)
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
