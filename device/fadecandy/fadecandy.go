// Package fadecandy implements the Fadecandy LED controller family.
//
// The controller accepts 64-byte bulk packets on endpoint 1. The first
// byte of each packet is a control byte: type in the two high bits,
// a FINAL flag, and a packet index in the low five bits. Framebuffer
// data (512 RGB pixels) spans 25 packets of 21 pixels; the color lookup
// table (257 16-bit entries per channel) spans 25 packets of 31 entries.
package fadecandy

import (
	"fmt"
	"log/slog"
	"math"

	"opcbridge/device"
	"opcbridge/internal/config"
	"opcbridge/internal/opc"
	"opcbridge/usb"
)

// USB identity of a Fadecandy controller.
const (
	VendorID  = 0x1d50
	ProductID = 0x607a
)

const (
	packetSize      = 64
	packetDataSize  = packetSize - 1
	pixelsPerPacket = packetDataSize / 3 // 21

	// NumPixels is the controller's framebuffer size.
	NumPixels = 512

	framebufferPackets = (NumPixels + pixelsPerPacket - 1) / pixelsPerPacket // 25

	lutEntriesPerChannel = 257
	lutEntries           = 3 * lutEntriesPerChannel
	lutEntriesPerPacket  = packetDataSize / 2 // 31
	lutPackets           = (lutEntries + lutEntriesPerPacket - 1) / lutEntriesPerPacket // 25

	typeFramebuffer = 0x00
	typeLUT         = 0x40
	flagFinal       = 0x20

	outEndpoint = 1
)

func init() {
	device.Register(device.Registration{
		Name:     "fadecandy",
		Priority: 0,
		Probe:    Probe,
		New:      New,
	})
}

// Probe reports whether h looks like a Fadecandy controller. It only
// inspects the device descriptor; ProbeAfterOpening confirms the guess.
func Probe(h usb.Handle) bool {
	return h.VendorID() == VendorID && h.ProductID() == ProductID
}

// Device is one Fadecandy controller.
type Device struct {
	handle  usb.Handle
	conn    usb.Conn
	logger  *slog.Logger
	verbose bool

	serial  string
	channel uint8

	framebuffer [framebufferPackets][packetSize]byte
	lut         [lutPackets][packetSize]byte
	fbDirty     bool
	lutDirty    bool
}

// New constructs an unopened Device for h.
func New(h usb.Handle, opts device.Options) device.Device {
	d := &Device{
		handle:  h,
		logger:  opts.Logger,
		verbose: opts.Verbose,
	}
	for i := range d.framebuffer {
		control := byte(typeFramebuffer | i)
		if i == framebufferPackets-1 {
			control |= flagFinal
		}
		d.framebuffer[i][0] = control
	}
	for i := range d.lut {
		control := byte(typeLUT | i)
		if i == lutPackets-1 {
			control |= flagFinal
		}
		d.lut[i][0] = control
	}
	return d
}

// Open claims the controller.
func (d *Device) Open() error {
	conn, err := d.handle.Open()
	if err != nil {
		return err
	}
	d.conn = conn
	return nil
}

// ProbeAfterOpening reads the serial number. Every genuine Fadecandy
// carries one; an empty or unreadable serial means this is something
// else squatting on the VID/PID pair.
func (d *Device) ProbeAfterOpening() bool {
	serial, err := d.conn.SerialNumber()
	if err != nil || serial == "" {
		return false
	}
	d.serial = serial
	return true
}

// MatchConfiguration accepts specs with type "fadecandy" whose optional
// "serial" equals this device's serial. On match the spec's optional
// "channel" selects which OPC channel the device listens to.
func (d *Device) MatchConfiguration(spec config.DeviceSpec) bool {
	if spec == nil || spec["type"] != "fadecandy" {
		return false
	}
	if serial, ok := spec["serial"]; ok && serial != d.serial {
		return false
	}
	if ch, ok := specChannel(spec); ok {
		d.channel = ch
	}
	return true
}

// WriteColorCorrection rebuilds the lookup table from the opaque color
// spec: a map with optional "gamma" (default 1.0) and "whitepoint"
// (default [1,1,1]). A nil or malformed spec yields a linear table.
func (d *Device) WriteColorCorrection(color any) {
	gamma := 1.0
	white := [3]float64{1, 1, 1}

	if m, ok := color.(map[string]any); ok {
		if g, ok := asFloat(m["gamma"]); ok && g > 0 {
			gamma = g
		}
		if wp, ok := m["whitepoint"].([]any); ok && len(wp) == 3 {
			for i, v := range wp {
				if f, ok := asFloat(v); ok {
					white[i] = f
				}
			}
		}
	}

	entry := 0
	for ch := 0; ch < 3; ch++ {
		for i := 0; i < lutEntriesPerChannel; i++ {
			v := 65535 * white[ch] * math.Pow(float64(i)/256, gamma)
			u := uint16(math.Min(65535, math.Max(0, math.Round(v))))
			pkt := entry / lutEntriesPerPacket
			off := 1 + 2*(entry%lutEntriesPerPacket)
			d.lut[pkt][off] = byte(u)
			d.lut[pkt][off+1] = byte(u >> 8)
			entry++
		}
	}
	d.lutDirty = true
}

// WriteMessage copies set-pixel-color data for this device's channel
// into the framebuffer packets.
func (d *Device) WriteMessage(msg *opc.Message) {
	if msg.Command != opc.SetPixelColors {
		return
	}
	if msg.Channel != opc.BroadcastChannel && msg.Channel != d.channel {
		return
	}

	pixels := len(msg.Data) / 3
	if pixels > NumPixels {
		pixels = NumPixels
	}
	for i := 0; i < pixels; i++ {
		pkt := i / pixelsPerPacket
		off := 1 + 3*(i%pixelsPerPacket)
		copy(d.framebuffer[pkt][off:off+3], msg.Data[3*i:3*i+3])
	}
	d.fbDirty = true
}

// Flush pushes any dirty LUT and framebuffer packets to the hardware.
// Transfer failures are logged and dropped; the data is retried on the
// next dirty flush.
func (d *Device) Flush() {
	if d.conn == nil {
		return
	}
	if d.lutDirty {
		if !d.writePackets(d.lut[:]) {
			return
		}
		d.lutDirty = false
	}
	if d.fbDirty {
		if !d.writePackets(d.framebuffer[:]) {
			return
		}
		d.fbDirty = false
	}
}

func (d *Device) writePackets(packets [][packetSize]byte) bool {
	for i := range packets {
		if _, err := d.conn.WriteBulk(outEndpoint, packets[i][:]); err != nil {
			if d.verbose {
				d.logger.Debug("fadecandy write failed", "device", d.Name(), "error", err)
			}
			return false
		}
	}
	return true
}

// Name returns the device name, including the serial once known.
func (d *Device) Name() string {
	if d.serial == "" {
		return "Fadecandy"
	}
	return fmt.Sprintf("Fadecandy (%s)", d.serial)
}

// Handle returns the raw USB handle.
func (d *Device) Handle() usb.Handle {
	return d.handle
}

// Close releases the controller if it was opened.
func (d *Device) Close() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

func specChannel(spec config.DeviceSpec) (uint8, bool) {
	f, ok := asFloat(spec["channel"])
	if !ok || f < 0 || f > 255 || f != math.Trunc(f) {
		return 0, false
	}
	return uint8(f), true
}

// asFloat coerces JSON (float64) and YAML (int/float64) numbers.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
