// Package device defines the capability set a USB lighting-controller
// family implements, and the registry of known families.
package device

import (
	"log/slog"

	"opcbridge/internal/config"
	"opcbridge/internal/opc"
	"opcbridge/usb"
)

// Options carries construction parameters common to all families.
type Options struct {
	// Verbose mirrors the server config flag; families may use it to
	// gate their own diagnostics.
	Verbose bool
	// Logger is never nil.
	Logger *slog.Logger
}

// Device is one recognized hardware device. Instances move through a
// fixed pipeline: constructed, Open, ProbeAfterOpening,
// MatchConfiguration, then either kept (registered) or Closed. After
// registration only WriteColorCorrection, WriteMessage, Flush and Close
// are used, always under the server's event lock.
//
// WriteMessage and Flush report nothing: transfer failures are the
// device's own concern and must never interrupt a broadcast.
type Device interface {
	// Open claims the underlying USB handle for I/O.
	Open() error
	// ProbeAfterOpening performs the deep family check that needs live
	// communication. False means the cheap probe guessed wrong; the
	// candidate is discarded silently.
	ProbeAfterOpening() bool
	// MatchConfiguration reports whether spec describes this device.
	// On true the device adopts the spec's parameters.
	MatchConfiguration(spec config.DeviceSpec) bool
	// WriteColorCorrection applies the opaque global color spec.
	WriteColorCorrection(color any)
	// WriteMessage queues a decoded OPC message for the device.
	WriteMessage(msg *opc.Message)
	// Flush pushes queued data to the hardware.
	Flush()
	// Name returns a human-readable device name for logging.
	Name() string
	// Handle returns the raw handle; Handle().ID() is the identity key.
	Handle() usb.Handle
	// Close releases everything the device acquired.
	Close()
}
