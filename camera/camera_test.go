package camera

import (
	"errors"
	"testing"
)

func TestROIValidate(t *testing.T) {
	cases := []struct {
		name string
		roi  ROI
		ok   bool
	}{
		{"full frame", FullFrame(1340, 100), true},
		{"fvb", FullVerticalBinning(1340, 100), true},
		{"zero binning", ROI{Width: 10, Height: 10}, false},
		{"past edge", ROI{X: 1300, Width: 100, XBinning: 1, Height: 1, YBinning: 1}, false},
		{"uneven binning", ROI{Width: 10, XBinning: 3, Height: 4, YBinning: 2}, false},
		{"negative offset", ROI{X: -1, Width: 10, XBinning: 1, Height: 4, YBinning: 1}, false},
	}
	for _, c := range cases {
		err := c.roi.Validate(1340, 100)
		if (err == nil) != c.ok {
			t.Errorf("%s: got err %v", c.name, err)
		}
		var bad ErrBadROI
		if err != nil && !errors.As(err, &bad) {
			t.Errorf("%s: expected ErrBadROI, got %T", c.name, err)
		}
	}
}

func TestROISize(t *testing.T) {
	r := ROI{X: 10, Width: 100, XBinning: 2, Y: 0, Height: 100, YBinning: 100}
	w, h := r.Size()
	if w != 50 || h != 1 {
		t.Errorf("expected 50x1, got %dx%d", w, h)
	}
}
