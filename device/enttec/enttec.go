// Package enttec implements the Enttec DMX USB Pro family.
//
// The adapter is an FTDI FT232 with Enttec firmware: host messages are
// framed as 0x7E, label, little-endian length, payload, 0xE7 and sent
// over the FTDI bulk OUT endpoint. Only the "Output Only Send DMX"
// message (label 6) is used here.
package enttec

import (
	"fmt"
	"log/slog"
	"strings"

	"opcbridge/device"
	"opcbridge/internal/config"
	"opcbridge/internal/opc"
	"opcbridge/usb"
)

// USB identity of the FT232 the adapter is built on. The pre-open probe
// cannot tell an Enttec Pro from any other FT232; ProbeAfterOpening
// settles it via the product string.
const (
	VendorID  = 0x0403
	ProductID = 0x6001
)

const (
	startOfMessage = 0x7e
	endOfMessage   = 0xe7
	labelSendDMX   = 6

	// DMX universe: start code followed by up to 512 slots.
	numSlots = 512

	outEndpoint = 2
)

// FTDI SIO control requests issued during Open to put the chip into
// 250 kbaud 8N2, the DMX line format.
const (
	ftdiRequestReset       = 0
	ftdiRequestSetBaudRate = 3
	ftdiRequestSetData     = 4

	ftdiRequestTypeOut = 0x40 // vendor, host-to-device

	ftdiBaudDMX = 12     // divisor for 250000 baud
	ftdiData8N2 = 0x1008 // 8 data bits, no parity, 2 stop bits
)

func init() {
	device.Register(device.Registration{
		Name:     "enttec",
		Priority: 1,
		Probe:    Probe,
		New:      New,
	})
}

// Probe accepts any FT232; the deep probe rejects non-Enttec chips.
func Probe(h usb.Handle) bool {
	return h.VendorID() == VendorID && h.ProductID() == ProductID
}

// Device is one Enttec DMX USB Pro adapter.
type Device struct {
	handle  usb.Handle
	conn    usb.Conn
	logger  *slog.Logger
	verbose bool

	serial  string
	channel uint8

	// packet is the pre-framed Send DMX message; slots live at
	// packet[5 : 5+numSlots].
	packet [5 + numSlots + 1]byte
	dirty  bool
}

// New constructs an unopened Device for h.
func New(h usb.Handle, opts device.Options) device.Device {
	d := &Device{
		handle:  h,
		logger:  opts.Logger,
		verbose: opts.Verbose,
	}
	payload := numSlots + 1 // DMX start code plus slots
	d.packet[0] = startOfMessage
	d.packet[1] = labelSendDMX
	d.packet[2] = byte(payload)
	d.packet[3] = byte(payload >> 8)
	d.packet[4] = 0 // DMX start code
	d.packet[len(d.packet)-1] = endOfMessage
	return d
}

// Open claims the adapter and configures the FTDI for the DMX line
// format.
func (d *Device) Open() error {
	conn, err := d.handle.Open()
	if err != nil {
		return err
	}
	if _, err := conn.Control(ftdiRequestTypeOut, ftdiRequestReset, 0, 0, nil); err != nil {
		_ = conn.Close()
		return err
	}
	if _, err := conn.Control(ftdiRequestTypeOut, ftdiRequestSetBaudRate, ftdiBaudDMX, 0, nil); err != nil {
		_ = conn.Close()
		return err
	}
	if _, err := conn.Control(ftdiRequestTypeOut, ftdiRequestSetData, ftdiData8N2, 0, nil); err != nil {
		_ = conn.Close()
		return err
	}
	d.conn = conn
	return nil
}

// ProbeAfterOpening checks the product string for the Enttec firmware.
// Plain FT232 serial adapters share the VID/PID and are rejected here.
func (d *Device) ProbeAfterOpening() bool {
	product, err := d.conn.Product()
	if err != nil {
		return false
	}
	if !strings.Contains(strings.ToUpper(product), "DMX USB PRO") {
		return false
	}
	if serial, err := d.conn.SerialNumber(); err == nil {
		d.serial = serial
	}
	return true
}

// MatchConfiguration accepts specs with type "enttec" whose optional
// "serial" equals this device's serial; optional "channel" selects the
// OPC channel.
func (d *Device) MatchConfiguration(spec config.DeviceSpec) bool {
	if spec == nil || spec["type"] != "enttec" {
		return false
	}
	if serial, ok := spec["serial"]; ok && serial != d.serial {
		return false
	}
	if f, ok := spec["channel"].(float64); ok && f >= 0 && f <= 255 {
		d.channel = uint8(f)
	} else if n, ok := spec["channel"].(int); ok && n >= 0 && n <= 255 {
		d.channel = uint8(n)
	}
	return true
}

// WriteColorCorrection is a no-op: DMX slot values are forwarded as-is
// and correction is the fixture's concern.
func (d *Device) WriteColorCorrection(color any) {}

// WriteMessage latches set-pixel-color data into the DMX slot buffer.
func (d *Device) WriteMessage(msg *opc.Message) {
	if msg.Command != opc.SetPixelColors {
		return
	}
	if msg.Channel != opc.BroadcastChannel && msg.Channel != d.channel {
		return
	}
	n := len(msg.Data)
	if n > numSlots {
		n = numSlots
	}
	copy(d.packet[5:5+n], msg.Data[:n])
	d.dirty = true
}

// Flush sends the latched universe when it changed. Transfer failures
// are logged and dropped; the frame is retried on the next flush.
func (d *Device) Flush() {
	if d.conn == nil || !d.dirty {
		return
	}
	if _, err := d.conn.WriteBulk(outEndpoint, d.packet[:]); err != nil {
		if d.verbose {
			d.logger.Debug("enttec write failed", "device", d.Name(), "error", err)
		}
		return
	}
	d.dirty = false
}

// Name returns the device name, including the serial once known.
func (d *Device) Name() string {
	if d.serial == "" {
		return "Enttec DMX USB Pro"
	}
	return fmt.Sprintf("Enttec DMX USB Pro (%s)", d.serial)
}

// Handle returns the raw USB handle.
func (d *Device) Handle() usb.Handle {
	return d.handle
}

// Close releases the adapter if it was opened.
func (d *Device) Close() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}
