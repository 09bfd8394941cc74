package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opcbridge/internal/opc"
	"opcbridge/usb"
)

func regDevice(bus, addr int) *fakeDevice {
	return &fakeDevice{
		handle: &handleStub{id: usb.DeviceID{Bus: bus, Address: addr}},
	}
}

type handleStub struct {
	id usb.DeviceID
}

func (h *handleStub) ID() usb.DeviceID { return h.id }

func (h *handleStub) VendorID() uint16 { return 0 }

func (h *handleStub) ProductID() uint16 { return 0 }

func (h *handleStub) Open() (usb.Conn, error) { return nil, nil }

func TestRegistryIndexByID(t *testing.T) {
	var r registry
	a, b := regDevice(1, 1), regDevice(1, 2)
	r.add(a)
	r.add(b)

	assert.Equal(t, 0, r.indexByID(a.Handle().ID()))
	assert.Equal(t, 1, r.indexByID(b.Handle().ID()))
	assert.Equal(t, -1, r.indexByID(usb.DeviceID{Bus: 9, Address: 9}))
}

func TestRegistryRemoveClosesDevice(t *testing.T) {
	var r registry
	a, b := regDevice(1, 1), regDevice(1, 2)
	r.add(a)
	r.add(b)

	require.True(t, r.removeByID(a.Handle().ID()))
	assert.True(t, a.closed)
	assert.False(t, b.closed)
	assert.Equal(t, 1, r.len())
	assert.Equal(t, 0, r.indexByID(b.Handle().ID()))

	assert.False(t, r.removeByID(a.Handle().ID()), "already removed")
}

func TestRegistryBroadcastOrderAndIsolation(t *testing.T) {
	var r registry
	a, b, c := regDevice(1, 1), regDevice(1, 2), regDevice(1, 3)
	r.add(a)
	r.add(b)
	r.add(c)

	msg := &opc.Message{Command: opc.SetPixelColors, Data: []byte{7}}
	r.broadcast(msg)

	for _, d := range []*fakeDevice{a, b, c} {
		require.Len(t, d.writes, 1)
		assert.Same(t, msg, d.writes[0])
	}
}

func TestRegistryFlushAll(t *testing.T) {
	var r registry
	a, b := regDevice(1, 1), regDevice(1, 2)
	r.add(a)
	r.add(b)

	r.flush()
	r.flush()
	assert.Equal(t, 2, a.flushes)
	assert.Equal(t, 2, b.flushes)
}
