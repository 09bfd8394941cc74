package server

import (
	"opcbridge/device"
	"opcbridge/internal/opc"
	"opcbridge/usb"
)

// registry is the ordered set of live, configuration-matched devices.
// It does no locking of its own: every method requires the server's
// event lock to be held. The registry is the sole owner of its entries;
// removal closes the device as part of the call.
type registry struct {
	devices []device.Device
}

// add appends a device that has passed the full acceptance pipeline.
func (r *registry) add(d device.Device) {
	r.devices = append(r.devices, d)
}

// indexByID returns the position of the device with the given identity,
// or -1 when it is not registered.
func (r *registry) indexByID(id usb.DeviceID) int {
	for i, d := range r.devices {
		if d.Handle().ID() == id {
			return i
		}
	}
	return -1
}

// at returns the device at position i.
func (r *registry) at(i int) device.Device {
	return r.devices[i]
}

// len returns the number of registered devices.
func (r *registry) len() int {
	return len(r.devices)
}

// removeAt removes and closes the device at position i.
func (r *registry) removeAt(i int) {
	d := r.devices[i]
	r.devices = append(r.devices[:i], r.devices[i+1:]...)
	d.Close()
}

// removeByID removes and closes the device with the given identity.
// It reports whether an entry was found; absence is not an error.
func (r *registry) removeByID(id usb.DeviceID) bool {
	i := r.indexByID(id)
	if i < 0 {
		return false
	}
	r.removeAt(i)
	return true
}

// broadcast delivers msg to every device in registry order. A device's
// write failure is its own concern and never interrupts delivery to the
// devices after it.
func (r *registry) broadcast(msg *opc.Message) {
	for _, d := range r.devices {
		d.WriteMessage(msg)
	}
}

// flush pushes queued data on every device in registry order.
func (r *registry) flush() {
	for _, d := range r.devices {
		d.Flush()
	}
}
