// Package gpio drives the LED output pin. Whether the pin exists is decided
// once at startup; afterwards every operation either uses the pin or
// short-circuits with ErrUnavailable.
package gpio

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ErrUnavailable is returned by every operation when no GPIO hardware was
// found at startup.
var ErrUnavailable = errors.New("GPIO not available")

// Output is the part of a periph pin the LED needs.
type Output interface {
	Out(l gpio.Level) error
}

// LED is either Available (pin set) or Unavailable (pin nil, reason set).
type LED struct {
	name   string
	pin    Output
	reason error

	mu sync.Mutex
}

// Open initializes the host drivers and claims pinName as an output driven
// low. Any failure yields an Unavailable LED rather than an error.
func Open(pinName string) *LED {
	if _, err := host.Init(); err != nil {
		return Unavailable(pinName, fmt.Errorf("init host drivers: %w", err))
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return Unavailable(pinName, fmt.Errorf("pin %s not found", pinName))
	}
	return Available(pinName, pin)
}

// Available wraps a usable pin and drives it low.
func Available(name string, pin Output) *LED {
	if err := pin.Out(gpio.Low); err != nil {
		return Unavailable(name, fmt.Errorf("configure %s as output: %w", name, err))
	}
	return &LED{name: name, pin: pin}
}

// Unavailable returns an LED whose operations all fail with ErrUnavailable.
func Unavailable(name string, reason error) *LED {
	return &LED{name: name, reason: reason}
}

// Available reports whether the pin was claimed at startup.
func (l *LED) Available() bool { return l.pin != nil }

// Reason explains why the LED is unavailable; nil when available.
func (l *LED) Reason() error { return l.reason }

// Name returns the configured pin name.
func (l *LED) Name() string { return l.name }

// Set drives the pin high (on) or low (off).
func (l *LED) Set(on bool) error {
	if l.pin == nil {
		return ErrUnavailable
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("write %s: %w", l.name, err)
	}
	return nil
}
