// Package opc implements the Open Pixel Control wire format and a TCP
// ingress sink that decodes frames and hands them to a callback.
package opc

import (
	"encoding/binary"
	"io"
)

// OPC command codes.
const (
	// SetPixelColors carries packed 8-bit RGB data for one channel.
	SetPixelColors uint8 = 0
	// SystemExclusive carries device- or vendor-specific data.
	SystemExclusive uint8 = 255
)

// BroadcastChannel addresses every channel on every device.
const BroadcastChannel uint8 = 0

// headerSize is the fixed OPC frame header:
// channel(1) command(1) length(2, big-endian).
const headerSize = 4

// Message is one decoded OPC frame.
type Message struct {
	Channel uint8
	Command uint8
	Data    []byte
}

// MessageFunc consumes decoded messages. It is invoked on the
// connection-reading goroutine.
type MessageFunc func(*Message)

// ReadMessage decodes one frame from r. It returns io.EOF on a clean end
// of stream and io.ErrUnexpectedEOF when the stream ends mid-frame.
func ReadMessage(r io.Reader) (*Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[2:4])
	msg := &Message{
		Channel: header[0],
		Command: header[1],
		Data:    make([]byte, length),
	}
	if _, err := io.ReadFull(r, msg.Data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}
