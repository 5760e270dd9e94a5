package spjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned when sending on a client whose context is done.
var ErrClosed = errors.New("spjs client closed")

// reconnectDelay is how long the client waits before redialing.
var reconnectDelay = 3 * time.Second

// Client is a connection to a Serial Port JSON Server. It redials
// automatically and reopens any registered ports on reconnect.
type Client struct {
	url string
	log *slog.Logger
	ctx context.Context

	mx          sync.RWMutex
	serialPorts []SerialPort
	ports       map[string]*Port

	outgoing chan message
}

type message struct {
	done    chan struct{}
	payload []byte
}

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int    `json:"QCnt"`
	Port       string `json:"P"`
	ID         string `json:"Id"`
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name                      string
	Friendly                  string
	SerialNumber              string
	DeviceClass               string
	IsOpen                    bool
	IsPrimary                 bool
	RelatedNames              []string
	Baud                      int
	BufferAlgorithm           string
	AvailableBufferAlgorithms []string
	Ver                       float64
	USBVID                    string
	USBPID                    string
	FeedRateOverride          float64
}

// NewClient starts a client for the server at url. It runs until ctx is done.
func NewClient(ctx context.Context, url string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		url:      url,
		log:      log.With("spjs", url),
		ctx:      ctx,
		ports:    make(map[string]*Port),
		outgoing: make(chan message, 1000),
	}

	go c.loop()

	return c
}

// Ports returns the serial ports from the most recent list.
func (c *Client) Ports() []SerialPort {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return append([]SerialPort(nil), c.serialPorts...)
}

func parseMessage(data []byte) (val interface{}, err error) {
	var msg map[string]json.RawMessage
	err = json.Unmarshal(data, &msg)
	if err != nil {
		return nil, err
	}

	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Cmd", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

func (c *Client) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Error("read", "err", err)
			}
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		val, err := parseMessage(data)
		if err != nil {
			c.log.Warn("parse", "err", err)
			continue
		}
		c.dispatch(val)
	}
}

func (c *Client) dispatch(val interface{}) {
	switch msg := val.(type) {
	case *DataFrame:
		c.mx.RLock()
		p := c.ports[msg.Port]
		c.mx.RUnlock()
		if p == nil {
			return
		}
		_, err := p.w.Write([]byte(msg.Data))
		if err != nil {
			c.log.Debug("dropped data for closed port", "port", msg.Port)
		}
	case *SerialPortList:
		c.mx.Lock()
		c.serialPorts = msg.SerialPorts
		var reopen []*Port
		for _, sp := range msg.SerialPorts {
			if p := c.ports[sp.Name]; p != nil && !sp.IsOpen {
				reopen = append(reopen, p)
			}
		}
		c.mx.Unlock()
		for _, p := range reopen {
			go c.WriteString(fmt.Sprintf("open %s %d default", p.name, p.baud))
		}
	case *CmdStatus:
		c.log.Debug("command status", "cmd", msg.Cmd, "port", msg.Port, "id", msg.ID, "queued", msg.QueueCount)
	case *ErrorMessage:
		c.log.Error("server error", "err", msg.Error)
	}
}

func (c *Client) loop() {
	var nextUp message

reconnect:
	for {
		if c.ctx.Err() != nil {
			return
		}
		c.log.Info("connecting")
		ws, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			c.log.Error("connect", "err", err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}
		c.log.Info("connected")
		ch := make(chan struct{})
		go c.readLoop(ws, ch)
		go c.WriteString("list") // refresh list on reconnect

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					c.log.Error("send", "err", err)
					ws.Close()
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-c.ctx.Done():
				ws.Close()
				return
			case <-ch:
				ws.Close()
				continue reconnect
			case nextUp = <-c.outgoing:
			}
		}
	}
}

type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

func (c *Client) SendJSON(v JSON) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sendjson: %w", err)
	}
	return c.send(append([]byte("sendjson "), data...))
}

func (c *Client) WriteString(data string) error {
	return c.send([]byte(data))
}

// send blocks until payload is written to the websocket.
func (c *Client) send(payload []byte) error {
	ch := make(chan struct{})
	select {
	case c.outgoing <- message{done: ch, payload: payload}:
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case <-ch:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}
