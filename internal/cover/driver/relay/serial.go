package relay

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

const lcusHeader = 0xA0

// SerialPin switches one channel of a USB serial relay board (LCUS style: a
// four byte frame of header, channel, state and checksum). High energizes the
// relay, so such boards are configured as normal closed to enable on High.
type SerialPin struct {
	w       io.Writer
	mu      *sync.Mutex
	channel uint8
}

func OpenSerialPort(name string, baudRate int) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", name)
	}

	return port, nil
}

// NewSerialPin writes frames for channel to w. Pins sharing a port must share
// mu so frames are never interleaved.
func NewSerialPin(w io.Writer, mu *sync.Mutex, channel uint8) *SerialPin {
	if mu == nil {
		mu = &sync.Mutex{}
	}

	return &SerialPin{w: w, mu: mu, channel: channel}
}

func (p *SerialPin) High() error {
	return p.write(1)
}

func (p *SerialPin) Low() error {
	return p.write(0)
}

func (p *SerialPin) write(state byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.w.Write(lcusFrame(p.channel, state)); err != nil {
		return errors.Wrapf(err, "serial relay channel %d", p.channel)
	}

	return nil
}

func lcusFrame(channel, state byte) []byte {
	return []byte{lcusHeader, channel, state, lcusHeader + channel + state}
}
