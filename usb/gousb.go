package usb

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/gousb"
)

// flushPeriod paces the caller's pump/flush cycle. gousb runs libusb's
// event loop on its own goroutine, so PumpEvents has no events of its own
// to process and only bounds how often the caller flushes.
const flushPeriod = 5 * time.Millisecond

// libusbTransport implements Transport on top of gousb.
type libusbTransport struct {
	ctx *gousb.Context
}

// NewTransport returns the libusb-backed transport.
func NewTransport() Transport {
	return &libusbTransport{ctx: gousb.NewContext()}
}

func (t *libusbTransport) Enumerate() ([]Handle, error) {
	var handles []Handle
	// The opener rejects every device, so OpenDevices only walks the
	// device list and hands us descriptors.
	_, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		handles = append(handles, &libusbHandle{ctx: t.ctx, desc: desc})
		return false
	})
	if err != nil {
		return nil, err
	}
	return handles, nil
}

// HasHotplug reports false: gousb does not surface libusb's hotplug API,
// so attach/detach tracking is emulated by polling Enumerate.
func (t *libusbTransport) HasHotplug() bool { return false }

func (t *libusbTransport) RegisterHotplug(fn HotplugFunc) error {
	return errors.New("usb: native hotplug not supported by this transport")
}

func (t *libusbTransport) PumpEvents() error {
	time.Sleep(flushPeriod)
	return nil
}

func (t *libusbTransport) Close() error {
	return t.ctx.Close()
}

// libusbHandle is an unopened device seen during enumeration.
type libusbHandle struct {
	ctx  *gousb.Context
	desc *gousb.DeviceDesc
}

func (h *libusbHandle) ID() DeviceID {
	return DeviceID{Bus: h.desc.Bus, Address: h.desc.Address}
}

func (h *libusbHandle) VendorID() uint16  { return uint16(h.desc.Vendor) }
func (h *libusbHandle) ProductID() uint16 { return uint16(h.desc.Product) }

func (h *libusbHandle) Open() (Conn, error) {
	want := h.ID()
	devs, err := h.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == want.Bus && desc.Address == want.Address
	})
	if err != nil {
		for _, d := range devs {
			_ = d.Close()
		}
		return nil, err
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("usb: device %s no longer attached", want)
	}
	dev := devs[0]
	// Detach kernel drivers (e.g. ftdi_sio) that would otherwise hold the
	// interface we are about to claim.
	_ = dev.SetAutoDetach(true)
	return &libusbConn{dev: dev, outs: make(map[int]*gousb.OutEndpoint)}, nil
}

// libusbConn is an open gousb device. The default interface is claimed
// lazily on the first bulk write.
type libusbConn struct {
	dev *gousb.Device

	mu   sync.Mutex
	intf *gousb.Interface
	done func()
	outs map[int]*gousb.OutEndpoint
}

func (c *libusbConn) Product() (string, error) {
	return c.dev.Product()
}

func (c *libusbConn) SerialNumber() (string, error) {
	return c.dev.SerialNumber()
}

func (c *libusbConn) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	return c.dev.Control(rType, request, val, idx, data)
}

func (c *libusbConn) WriteBulk(endpoint int, data []byte) (int, error) {
	c.mu.Lock()
	out, ok := c.outs[endpoint]
	if !ok {
		if c.intf == nil {
			intf, done, err := c.dev.DefaultInterface()
			if err != nil {
				c.mu.Unlock()
				return 0, err
			}
			c.intf = intf
			c.done = done
		}
		ep, err := c.intf.OutEndpoint(endpoint)
		if err != nil {
			c.mu.Unlock()
			return 0, err
		}
		c.outs[endpoint] = ep
		out = ep
	}
	c.mu.Unlock()
	return out.Write(data)
}

func (c *libusbConn) Close() error {
	c.mu.Lock()
	if c.done != nil {
		c.done()
		c.done = nil
		c.intf = nil
	}
	c.mu.Unlock()
	return c.dev.Close()
}

// IsTransientOpenError reports whether an Open failure is a known
// transient race rather than a real fault. On Windows, libusb reports
// NOT_FOUND or NOT_SUPPORTED while WinUSB driver installation for a newly
// attached device is still in progress; the device has not actually left,
// so the next hotplug or poll cycle retries naturally.
func IsTransientOpenError(err error) bool {
	if runtime.GOOS != "windows" {
		return false
	}
	var le gousb.Error
	if !errors.As(err, &le) {
		return false
	}
	return le == gousb.ErrorNotFound || le == gousb.ErrorNotSupported
}
