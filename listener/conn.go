package listener

import (
	"encoding/binary"
	"net"
	"sync"

	"tlsgate/hellogate"
)

const (
	recordHeaderLen     = 5
	recordTypeHandshake = 0x16
	maxRecordPayload    = 16384

	// DefaultMaxHelloBytes fits one maximum-size TLS record with its header.
	DefaultMaxHelloBytes = recordHeaderLen + maxRecordPayload
)

// Conn wraps an accepted connection, tags it with a ConnectionID and keeps a
// copy of the first TLS record the peer sends. For a TLS client that record
// is the ClientHello. Only the 5-byte record header is inspected.
type Conn struct {
	net.Conn
	id  hellogate.ConnectionID
	max int

	mu       sync.Mutex
	buf      []byte
	need     int
	done     bool
	complete bool
}

func newConn(c net.Conn, id hellogate.ConnectionID, maxHello int) *Conn {
	if maxHello <= 0 {
		maxHello = DefaultMaxHelloBytes
	}
	return &Conn{Conn: c, id: id, max: maxHello}
}

// ID returns the identifier assigned at accept time.
func (c *Conn) ID() hellogate.ConnectionID {
	return c.id
}

// Read passes through to the wrapped connection, recording bytes until the
// first record is complete.
func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.record(p[:n])
	}
	return n, err
}

func (c *Conn) record(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	if c.need > 0 {
		if room := c.need - len(c.buf); len(b) > room {
			b = b[:room]
		}
	}
	c.buf = append(c.buf, b...)

	if c.need == 0 && len(c.buf) >= recordHeaderLen {
		if c.buf[0] != recordTypeHandshake {
			c.abandonLocked()
			return
		}
		c.need = recordHeaderLen + int(binary.BigEndian.Uint16(c.buf[3:5]))
		if c.need > c.max {
			c.abandonLocked()
			return
		}
	}
	if c.need > 0 && len(c.buf) >= c.need {
		c.buf = c.buf[:c.need]
		c.done = true
		c.complete = true
	}
}

func (c *Conn) abandonLocked() {
	c.done = true
	c.buf = nil
}

// ClientHello returns a copy of the captured record, or nil when the peer did
// not open with a complete handshake record within the size cap.
func (c *Conn) ClientHello() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.complete {
		return nil
	}
	out := make([]byte, len(c.buf))
	copy(out, c.buf)
	return out
}
