//go:build picam
// +build picam

package picam

/*
#cgo linux CFLAGS: -I/opt/PrincetonInstruments/picam/includes
#cgo linux LDFLAGS: -L/opt/PrincetonInstruments/picam/runtime -lpicam
#cgo windows LDFLAGS: -lPicam
#include <stdlib.h>
#include <string.h>
#include <picam.h>
*/
import "C"
import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/astrogo/fitsio"

	"github.com/labctl/spectrolab/camera"
)

// acquireTimeout is added to the exposure time to bound Picam_Acquire
const acquireTimeout = 10 * time.Second

// SDKError is an error code from the SDK
type SDKError int

func (e SDKError) Error() string {
	var s *C.pichar
	if C.Picam_GetEnumerationString(C.PicamEnumeratedType_Error, C.piint(e), &s) != C.PicamError_None {
		return fmt.Sprintf("%d - UNKNOWN_ERROR_CODE", int(e))
	}
	defer C.Picam_DestroyString(s)
	return fmt.Sprintf("%d - %s", int(e), C.GoString(s))
}

// Error returns nil for PicamError_None, otherwise an SDKError
func Error(code C.PicamError) error {
	if code == C.PicamError_None {
		return nil
	}
	return SDKError(code)
}

// enrich adds the name of the failing call to an error
func enrich(err error, call string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", call, err)
}

var (
	libMu    sync.Mutex
	libUsers int
)

func initLibrary() error {
	libMu.Lock()
	defer libMu.Unlock()
	if libUsers == 0 {
		if err := enrich(Error(C.Picam_InitializeLibrary()), "Picam_InitializeLibrary"); err != nil {
			return err
		}
	}
	libUsers++
	return nil
}

func releaseLibrary() error {
	libMu.Lock()
	defer libMu.Unlock()
	libUsers--
	if libUsers == 0 {
		return enrich(Error(C.Picam_UninitializeLibrary()), "Picam_UninitializeLibrary")
	}
	return nil
}

func enumString(typ C.PicamEnumeratedType, v C.piint) string {
	var s *C.pichar
	if C.Picam_GetEnumerationString(typ, v, &s) != C.PicamError_None {
		return ""
	}
	defer C.Picam_DestroyString(s)
	return C.GoString(s)
}

func goID(id *C.PicamCameraID) CameraID {
	return CameraID{
		Model:        enumString(C.PicamEnumeratedType_Model, C.piint(id.model)),
		SerialNumber: C.GoString(&id.serial_number[0]),
		SensorName:   C.GoString(&id.sensor_name[0]),
	}
}

// availableIDs calls fn on each camera ID the SDK reports.  The library must
// be initialized.
func availableIDs(fn func(*C.PicamCameraID) bool) error {
	var ids *C.PicamCameraID
	var count C.piint
	err := enrich(Error(C.Picam_GetAvailableCameraIDs(&ids, &count)), "Picam_GetAvailableCameraIDs")
	if err != nil {
		return err
	}
	defer C.Picam_DestroyCameraIDs(ids)
	slice := unsafe.Slice(ids, int(count))
	for i := range slice {
		if !fn(&slice[i]) {
			break
		}
	}
	return nil
}

// ListCameras lists the cameras the SDK can see
func ListCameras() ([]CameraID, error) {
	if err := initLibrary(); err != nil {
		return nil, err
	}
	defer releaseLibrary()
	var out []CameraID
	err := availableIDs(func(id *C.PicamCameraID) bool {
		out = append(out, goID(id))
		return true
	})
	return out, err
}

// Camera is a camera driven by the picam SDK
type Camera struct {
	mu     sync.Mutex
	handle C.PicamHandle
	id     CameraID
	open   bool
	roi    camera.ROI
}

// Open opens the camera with the given serial number, or the first camera
// if serial is empty
func Open(serial string) (Device, error) {
	if err := initLibrary(); err != nil {
		return nil, err
	}
	c := &Camera{}
	var err error
	if serial == "" {
		err = enrich(Error(C.Picam_OpenFirstCamera(&c.handle)), "Picam_OpenFirstCamera")
	} else {
		var found bool
		var openErr error
		err = availableIDs(func(id *C.PicamCameraID) bool {
			if C.GoString(&id.serial_number[0]) != serial {
				return true
			}
			found = true
			openErr = enrich(Error(C.Picam_OpenCamera(id, &c.handle)), "Picam_OpenCamera")
			if openErr == nil {
				c.id = goID(id)
			}
			return false
		})
		switch {
		case err != nil:
		case !found:
			err = fmt.Errorf("%w: serial number %s", ErrNoCamera, serial)
		default:
			err = openErr
		}
	}
	if err != nil {
		releaseLibrary()
		return nil, err
	}
	c.open = true
	if c.id.SerialNumber == "" {
		var id C.PicamCameraID
		if C.Picam_GetCameraID(c.handle, &id) == C.PicamError_None {
			c.id = goID(&id)
		}
	}
	return c, nil
}

func (c *Camera) getFloat(p C.PicamParameter) (float64, error) {
	var f C.piflt
	err := enrich(Error(C.Picam_GetParameterFloatingPointValue(c.handle, p, &f)), "Picam_GetParameterFloatingPointValue")
	return float64(f), err
}

func (c *Camera) setFloat(p C.PicamParameter, f float64) error {
	return enrich(Error(C.Picam_SetParameterFloatingPointValue(c.handle, p, C.piflt(f))), "Picam_SetParameterFloatingPointValue")
}

func (c *Camera) getInt(p C.PicamParameter) (int, error) {
	var i C.piint
	err := enrich(Error(C.Picam_GetParameterIntegerValue(c.handle, p, &i)), "Picam_GetParameterIntegerValue")
	return int(i), err
}

// commit pushes changed parameters to the hardware
func (c *Camera) commit() error {
	var failed *C.PicamParameter
	var count C.piint
	err := enrich(Error(C.Picam_CommitParameters(c.handle, &failed, &count)), "Picam_CommitParameters")
	if failed != nil {
		C.Picam_DestroyParameters(failed)
	}
	if err == nil && count > 0 {
		err = fmt.Errorf("Picam_CommitParameters: %d parameters failed to commit", int(count))
	}
	return err
}

// Initialize reads the ROI and commits the default parameters
func (c *Camera) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.commit(); err != nil {
		return err
	}
	return c.readROI()
}

// Finalize closes the camera and releases the library
func (c *Camera) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	err := enrich(Error(C.Picam_CloseCamera(c.handle)), "Picam_CloseCamera")
	if rerr := releaseLibrary(); err == nil {
		err = rerr
	}
	return err
}

// GetExposureTime gets the exposure time
func (c *Camera) GetExposureTime() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms, err := c.getFloat(C.PicamParameter_ExposureTime)
	return time.Duration(ms * float64(time.Millisecond)), err
}

// SetExposureTime sets the exposure time
func (c *Camera) SetExposureTime(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.setFloat(C.PicamParameter_ExposureTime, float64(d)/float64(time.Millisecond))
	if err != nil {
		return err
	}
	return c.commit()
}

// readROI refreshes the cached ROI.  c.mu must be held.
func (c *Camera) readROI() error {
	var rois *C.PicamRois
	err := enrich(Error(C.Picam_GetParameterRoisValue(c.handle, C.PicamParameter_Rois, &rois)), "Picam_GetParameterRoisValue")
	if err != nil {
		return err
	}
	defer C.Picam_DestroyRois(rois)
	if rois.roi_count < 1 {
		return fmt.Errorf("camera reports no ROI")
	}
	r := rois.roi_array
	c.roi = camera.ROI{
		X: int(r.x), Width: int(r.width), XBinning: int(r.x_binning),
		Y: int(r.y), Height: int(r.height), YBinning: int(r.y_binning)}
	return nil
}

// GetROI returns the region of interest
func (c *Camera) GetROI() (camera.ROI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roi, nil
}

// SetROI sets a single region of interest
func (c *Camera) SetROI(roi camera.ROI) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, err := c.getInt(C.PicamParameter_ActiveWidth)
	if err != nil {
		return err
	}
	h, err := c.getInt(C.PicamParameter_ActiveHeight)
	if err != nil {
		return err
	}
	if err := roi.Validate(w, h); err != nil {
		return err
	}
	var rois *C.PicamRois
	err = enrich(Error(C.Picam_GetParameterRoisValue(c.handle, C.PicamParameter_Rois, &rois)), "Picam_GetParameterRoisValue")
	if err != nil {
		return err
	}
	defer C.Picam_DestroyRois(rois)
	r := rois.roi_array
	r.x, r.width, r.x_binning = C.piint(roi.X), C.piint(roi.Width), C.piint(roi.XBinning)
	r.y, r.height, r.y_binning = C.piint(roi.Y), C.piint(roi.Height), C.piint(roi.YBinning)
	rois.roi_count = 1
	err = enrich(Error(C.Picam_SetParameterRoisValue(c.handle, C.PicamParameter_Rois, rois)), "Picam_SetParameterRoisValue")
	if err != nil {
		return err
	}
	if err = c.commit(); err != nil {
		return err
	}
	c.roi = roi
	return nil
}

// GetFrame acquires one readout and returns it as a strided buffer
func (c *Camera) GetFrame() ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquire()
}

// GetFrameROI acquires one frame and returns it with the ROI it was read with
func (c *Camera) GetFrameROI() ([]uint16, camera.ROI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, err := c.acquire()
	return img, c.roi, err
}

// acquire reads one frame.  c.mu must be held.
func (c *Camera) acquire() ([]uint16, error) {
	ms, err := c.getFloat(C.PicamParameter_ExposureTime)
	if err != nil {
		return nil, err
	}
	stride, err := c.getInt(C.PicamParameter_ReadoutStride)
	if err != nil {
		return nil, err
	}
	timeout := C.piint(ms + float64(acquireTimeout/time.Millisecond))
	var avail C.PicamAvailableData
	var errs C.PicamAcquisitionErrorsMask
	err = enrich(Error(C.Picam_Acquire(c.handle, 1, timeout, &avail, &errs)), "Picam_Acquire")
	if err != nil {
		return nil, err
	}
	if errs != C.PicamAcquisitionErrorsMask_None {
		return nil, fmt.Errorf("Picam_Acquire: acquisition error mask %d", int(errs))
	}
	w, h := c.roi.Size()
	n := w * h
	if 2*n > stride {
		return nil, fmt.Errorf("readout stride %d too small for %dx%d frame", stride, w, h)
	}
	out := make([]uint16, n)
	copy(out, unsafe.Slice((*uint16)(avail.initial_readout), n))
	return out, nil
}

// PixelWidth returns the pixel pitch in microns
func (c *Camera) PixelWidth() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getFloat(C.PicamParameter_PixelWidth)
}

// ActiveSize returns the active area of the sensor in pixels
func (c *Camera) ActiveSize() (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, err := c.getInt(C.PicamParameter_ActiveWidth)
	if err != nil {
		return 0, 0, err
	}
	h, err := c.getInt(C.PicamParameter_ActiveHeight)
	return w, h, err
}

// GetTemperature gets the sensor temperature in Celcius
func (c *Camera) GetTemperature() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getFloat(C.PicamParameter_SensorTemperatureReading)
}

// GetTemperatureSetpoint gets the sensor temperature setpoint in Celcius
func (c *Camera) GetTemperatureSetpoint() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getFloat(C.PicamParameter_SensorTemperatureSetPoint)
}

// SetTemperatureSetpoint sets the sensor temperature setpoint in Celcius
func (c *Camera) SetTemperatureSetpoint(t float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.setFloat(C.PicamParameter_SensorTemperatureSetPoint, t); err != nil {
		return err
	}
	return c.commit()
}

// GetTemperatureStatus returns "Locked", "Unlocked" or "Faulted"
func (c *Camera) GetTemperatureStatus() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.getInt(C.PicamParameter_SensorTemperatureStatus)
	if err != nil {
		return "", err
	}
	return enumString(C.PicamEnumeratedType_SensorTemperatureStatus, C.piint(i)), nil
}

// GetModel returns the camera model
func (c *Camera) GetModel() (string, error) {
	return c.id.Model, nil
}

// GetSerialNumber returns the camera serial number
func (c *Camera) GetSerialNumber() (string, error) {
	return c.id.SerialNumber, nil
}

// CollectHeaderMetadata produces FITS cards describing the camera state
func (c *Camera) CollectHeaderMetadata() []fitsio.Card {
	return headerCards(c)
}
