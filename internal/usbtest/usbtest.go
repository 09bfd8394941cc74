// Package usbtest provides fake USB transport pieces for tests.
package usbtest

import (
	"sync"

	"opcbridge/usb"
)

// Handle is a scriptable usb.Handle.
type Handle struct {
	DeviceID usb.DeviceID
	Vendor   uint16
	Product  uint16

	// Conn is returned by Open. When nil, Open returns a zero Conn.
	Conn *Conn
	// OpenErr, when set, makes Open fail.
	OpenErr error

	Opens int
}

func (h *Handle) ID() usb.DeviceID { return h.DeviceID }

func (h *Handle) VendorID() uint16 { return h.Vendor }

func (h *Handle) ProductID() uint16 { return h.Product }

func (h *Handle) Open() (usb.Conn, error) {
	h.Opens++
	if h.OpenErr != nil {
		return nil, h.OpenErr
	}
	if h.Conn == nil {
		h.Conn = &Conn{}
	}
	return h.Conn, nil
}

// Conn is a scriptable usb.Conn recording every write.
type Conn struct {
	ProductStr string
	ProductErr error
	Serial     string
	SerialErr  error
	WriteErr   error

	// Bulk records WriteBulk payloads per endpoint.
	Bulk map[int][][]byte
	// Controls records Control invocations as [rType, request, val, idx].
	Controls [][4]uint16

	Closed int
}

func (c *Conn) Product() (string, error) {
	return c.ProductStr, c.ProductErr
}

func (c *Conn) SerialNumber() (string, error) {
	return c.Serial, c.SerialErr
}

func (c *Conn) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	c.Controls = append(c.Controls, [4]uint16{uint16(rType), uint16(request), val, idx})
	return len(data), nil
}

func (c *Conn) WriteBulk(endpoint int, data []byte) (int, error) {
	if c.WriteErr != nil {
		return 0, c.WriteErr
	}
	if c.Bulk == nil {
		c.Bulk = make(map[int][][]byte)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.Bulk[endpoint] = append(c.Bulk[endpoint], buf)
	return len(data), nil
}

func (c *Conn) Close() error {
	c.Closed++
	return nil
}

// Transport is a scriptable usb.Transport. With Hotplug set, Attach and
// Detach deliver native events to the registered callback; otherwise the
// server polls Enumerate.
type Transport struct {
	mu      sync.Mutex
	handles []usb.Handle
	cb      usb.HotplugFunc

	Hotplug bool
	EnumErr error
	PumpErr error
	Pumps   int
}

// NewTransport returns a Transport pre-populated with handles.
func NewTransport(hotplug bool, handles ...usb.Handle) *Transport {
	return &Transport{Hotplug: hotplug, handles: handles}
}

func (t *Transport) Enumerate() ([]usb.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.EnumErr != nil {
		return nil, t.EnumErr
	}
	out := make([]usb.Handle, len(t.handles))
	copy(out, t.handles)
	return out, nil
}

func (t *Transport) HasHotplug() bool { return t.Hotplug }

func (t *Transport) RegisterHotplug(fn usb.HotplugFunc) error {
	t.mu.Lock()
	t.cb = fn
	existing := make([]usb.Handle, len(t.handles))
	copy(existing, t.handles)
	t.mu.Unlock()
	// Synthetic arrivals for devices attached before subscription.
	for _, h := range existing {
		fn(usb.DeviceArrived, h)
	}
	return nil
}

func (t *Transport) PumpEvents() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Pumps++
	return t.PumpErr
}

func (t *Transport) Close() error { return nil }

// Attach adds a handle and, with native hotplug, delivers the arrival.
func (t *Transport) Attach(h usb.Handle) {
	t.mu.Lock()
	t.handles = append(t.handles, h)
	cb := t.cb
	t.mu.Unlock()
	if t.Hotplug && cb != nil {
		cb(usb.DeviceArrived, h)
	}
}

// Detach removes a handle and, with native hotplug, delivers the
// departure.
func (t *Transport) Detach(h usb.Handle) {
	t.mu.Lock()
	for i, cur := range t.handles {
		if cur.ID() == h.ID() {
			t.handles = append(t.handles[:i], t.handles[i+1:]...)
			break
		}
	}
	cb := t.cb
	t.mu.Unlock()
	if t.Hotplug && cb != nil {
		cb(usb.DeviceLeft, h)
	}
}
