//go:build !picam
// +build !picam

package picam

// ListCameras lists the cameras the SDK can see
func ListCameras() ([]CameraID, error) {
	return nil, ErrNoSDK
}

// Open opens the camera with the given serial number, or the first camera
// if serial is empty
func Open(serial string) (Device, error) {
	return nil, ErrNoSDK
}
