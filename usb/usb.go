// Package usb abstracts the USB transport used to reach lighting
// controllers: enumeration of attached devices, opening them, hotplug
// notification and the pending-event pump.
//
// The production transport is backed by libusb via gousb (see
// NewTransport). Tests substitute their own Transport.
package usb

import "fmt"

// DeviceID identifies an attached device on the bus. It is stable and
// unique for as long as the device stays attached, and is never reused
// while it is; it is the identity key for registry membership.
type DeviceID struct {
	Bus     int
	Address int
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%03d.%03d", id.Bus, id.Address)
}

// Handle is an attached device that has not been opened yet. It exposes
// only what a cheap pre-open probe may inspect.
type Handle interface {
	// ID returns the device's identity on the bus.
	ID() DeviceID
	// VendorID returns the USB vendor ID from the device descriptor.
	VendorID() uint16
	// ProductID returns the USB product ID from the device descriptor.
	ProductID() uint16
	// Open claims the device for I/O. The caller owns the returned Conn
	// and must Close it.
	Open() (Conn, error)
}

// Conn is an open device connection.
type Conn interface {
	// Product returns the product string descriptor.
	Product() (string, error)
	// SerialNumber returns the serial-number string descriptor.
	SerialNumber() (string, error)
	// Control performs a control transfer on endpoint zero.
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
	// WriteBulk writes data to the given OUT endpoint.
	WriteBulk(endpoint int, data []byte) (int, error)
	// Close releases the device.
	Close() error
}

// Event is a hotplug event kind.
type Event int

const (
	// DeviceArrived signals a newly attached device.
	DeviceArrived Event = iota
	// DeviceLeft signals a detached device.
	DeviceLeft
)

// HotplugFunc receives hotplug events. It is invoked from the transport's
// event delivery context.
type HotplugFunc func(Event, Handle)

// Transport is the set of USB primitives the server consumes.
type Transport interface {
	// Enumerate snapshots all currently attached devices.
	Enumerate() ([]Handle, error)
	// HasHotplug reports whether the transport delivers native hotplug
	// events. When false, callers fall back to polling Enumerate.
	HasHotplug() bool
	// RegisterHotplug subscribes fn to attach/detach events for any
	// vendor, product and class, and synthesizes arrival callbacks for
	// devices already attached at subscription time.
	RegisterHotplug(fn HotplugFunc) error
	// PumpEvents processes pending transport events without blocking on
	// new ones. It returns promptly so the caller's flush cycle stays
	// responsive.
	PumpEvents() error
	// Close releases the transport.
	Close() error
}
