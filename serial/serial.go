// Package serial opens the serial port of an SMS-capable modem.
package serial

import (
	"errors"
	"io"

	"github.com/jacobsa/go-serial/serial"

	"github.com/telgo/smsrouter/com"
)

// ErrNoModemFound is returned when no modem serial device could be detected.
var ErrNoModemFound = errors.New("no modem device found")

// Open opens the serial port with the given name and returns an AT command
// channel on it.
func Open(portName string) (*com.Channel, error) {
	device, err := openSerial(portName)
	if err != nil {
		return nil, err
	}

	return com.New(device), nil
}

// OpenWithTrace opens the serial port with the given name and traces all
// communication to the given writer.
func OpenWithTrace(portName string, tracer io.Writer) (*com.Channel, error) {
	device, err := openSerial(portName)
	if err != nil {
		return nil, err
	}

	return com.NewWithTrace(device, tracer), nil
}

func openSerial(portName string) (io.ReadWriteCloser, error) {
	portConfig := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              115200,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		RTSCTSFlowControl:     true,
		MinimumReadSize:       4,
		InterCharacterTimeout: 100,
	}

	return serial.Open(portConfig)
}
