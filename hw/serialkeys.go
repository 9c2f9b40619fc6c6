package hw

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"otxboot/boot"
)

// frameSync starts every key frame sent by the keypad controller. A frame
// is frameSync, the key bitmask and the signed rotary delta.
const frameSync = 0xA5

// keyMask covers the six key lines.
const keyMask = 1<<boot.NumKeys - 1

// ErrNoSerialPort is returned when no USB serial port is found.
var ErrNoSerialPort = errors.New("no usb serial port found")

// SerialKeys samples a key matrix scanned by an external microcontroller.
// It implements boot.KeySampler.
type SerialKeys struct {
	r    io.ReadCloser
	log  *slog.Logger
	done chan struct{}

	mu     sync.Mutex
	in     boot.RawInput
	frames int
	err    error
}

// OpenSerialKeys opens port at baud and starts reading frames. The port
// "auto" selects the first USB serial port.
func OpenSerialKeys(port string, baud int, log *slog.Logger) (*SerialKeys, error) {
	if port == "auto" {
		p, err := FindSerialPort()
		if err != nil {
			return nil, err
		}
		port = p
	}
	s, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	// Some USB CDC implementations only deliver data after DTR is asserted.
	_ = s.SetDTR(true)
	k := NewSerialKeys(s, log)
	k.log.Info("serial keypad opened", "port", port, "baud", baud)
	return k, nil
}

// FindSerialPort returns the name of the first USB serial port.
func FindSerialPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.IsUSB && !strings.Contains(strings.ToLower(p.Name), "bluetooth") {
			return p.Name, nil
		}
	}
	return "", ErrNoSerialPort
}

// NewSerialKeys reads frames from r until it is closed.
func NewSerialKeys(r io.ReadCloser, log *slog.Logger) *SerialKeys {
	k := &SerialKeys{r: r, log: logger(log, "keys"), done: make(chan struct{})}
	go k.read()
	return k
}

func (k *SerialKeys) read() {
	defer close(k.done)
	br := bufio.NewReader(k.r)
	var frame [2]byte
	for {
		b, err := br.ReadByte()
		if err == nil && b != frameSync {
			continue
		}
		if err == nil {
			_, err = io.ReadFull(br, frame[:])
		}
		if err != nil {
			k.mu.Lock()
			k.err = err
			k.in.Keys = 0
			k.mu.Unlock()
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				k.log.Warn("keypad read failed", "error", err)
			}
			return
		}
		if frame[0]&^keyMask != 0 {
			continue
		}
		k.mu.Lock()
		k.in.Keys = frame[0]
		k.in.Rotary += int32(int8(frame[1]))
		k.frames++
		k.mu.Unlock()
	}
}

// Sample implements boot.KeySampler. Keys read as released once the
// port fails.
func (k *SerialKeys) Sample() boot.RawInput {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.in
}

// Frames returns the number of frames received.
func (k *SerialKeys) Frames() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.frames
}

// Err returns the error that stopped the reader, if any.
func (k *SerialKeys) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.err
}

// Close closes the port and waits for the reader to exit.
func (k *SerialKeys) Close() error {
	err := k.r.Close()
	<-k.done
	return err
}
