package comm

import (
	"sort"

	bugserial "go.bug.st/serial"
)

// ListSerialPorts returns the names of the serial ports present on the host,
// sorted.  On windows these are COMn, on linux /dev/ttyXXX.
func ListSerialPorts() ([]string, error) {
	ports, err := bugserial.GetPortsList()
	if err != nil {
		return nil, err
	}
	sort.Strings(ports)
	return ports, nil
}
