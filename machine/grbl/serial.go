package grbl

import (
	"io"
	"time"

	"github.com/tarm/serial"
	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// readTimeout keeps serial reads from blocking forever so the reader can
// notice Close.
const readTimeout = 100 * time.Millisecond

// OpenSerial opens a serial device at the given baud rate.
func OpenSerial(name string, baud int) (io.ReadWriteCloser, error) {
	return serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
}

// PortInfo describes a serial device present on the system.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID, PID     string
	SerialNumber string
	Product      string
}

// ListPorts returns the serial devices present on the system in
// enumeration order.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil && len(details) > 0 {
		res := make([]PortInfo, len(details))
		for i, d := range details {
			res[i] = PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			}
		}
		return res, nil
	}

	names, err := bugst.GetPortsList()
	if err != nil {
		return nil, err
	}
	res := make([]PortInfo, len(names))
	for i, name := range names {
		res[i].Name = name
	}
	return res, nil
}

// PortNames returns the names of the serial devices present on the system.
func PortNames() ([]string, error) {
	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return names, nil
}
