package spjs

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
)

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "gsend_" + strconv.FormatInt(id, 36)
}

// Port is a serial port opened through the server.
//
// Writes are forwarded as sendjson commands and data frames for the
// port are delivered to Read in arrival order.
type Port struct {
	c    *Client
	name string
	baud int

	r *io.PipeReader
	w *io.PipeWriter

	once sync.Once
}

var _ io.ReadWriteCloser = (*Port)(nil)

// Open registers name with the client and asks the server to open it.
// The port is reopened whenever the server reports it closed.
func (c *Client) Open(name string, baud int) (*Port, error) {
	r, w := io.Pipe()
	p := &Port{c: c, name: name, baud: baud, r: r, w: w}

	c.mx.Lock()
	if c.ports[name] != nil {
		c.mx.Unlock()
		return nil, fmt.Errorf("port %s already open", name)
	}
	c.ports[name] = p
	c.mx.Unlock()

	err := c.WriteString("list")
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Port) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *Port) Write(b []byte) (int, error) {
	err := p.c.SendJSON(JSON{
		Port: p.name,
		Data: []Data{{Data: string(b), ID: nextID()}},
	})
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *Port) Close() error {
	p.once.Do(func() {
		p.c.mx.Lock()
		if p.c.ports[p.name] == p {
			delete(p.c.ports, p.name)
		}
		p.c.mx.Unlock()

		p.r.Close()
		p.w.Close()
		go p.c.WriteString("close " + p.name)
	})
	return nil
}
