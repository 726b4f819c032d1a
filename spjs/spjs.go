// Package spjs talks to a serial-port-json-server over a websocket and
// exposes its serial ports as streams.
package spjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mastercactapus/wellcnc/logger"
)

// ErrClosed is returned after the Client or Port has been closed.
var ErrClosed = errors.New("spjs: closed")

const reconnectDelay = 3 * time.Second

// Client is a connection to a serial-port-json-server. It reconnects
// automatically and reopens ports that were open before.
type Client struct {
	url string
	log logger.Logger

	mx          sync.RWMutex
	serialPorts []SerialPort
	ports       map[string]*Port
	opening     map[string]chan error

	outgoing chan message
	closeCh  chan struct{}
	doneCh   chan struct{}
	once     sync.Once
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
	Port       string
	Desc       string
	QueueCount int `json:"QCnt"`
	Type       []string
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

// NewClient starts connecting to the server at url, e.g. `ws://cnc-bridge:8989/ws`.
func NewClient(url string) *Client {
	c := &Client{
		url:      url,
		log:      logger.With("component", "spjs", "url", url),
		ports:    make(map[string]*Port),
		opening:  make(map[string]chan error),
		outgoing: make(chan message, 1000),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go c.loop()

	return c
}

func parseSPJSMessage(data []byte, msg map[string]json.RawMessage) (val interface{}, err error) {
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
			c.log.Error("read failed", "error", err)
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		var msg map[string]json.RawMessage
		err = json.Unmarshal(data, &msg)
		if err != nil {
			c.log.Error("read failed", "error", err)
			continue
		}
		val, err := parseSPJSMessage(data, msg)
		if err != nil {
			c.log.Debug("skipping message", "error", err)
			continue
		}
		c.handle(val)
	}
}

func (c *Client) handle(val interface{}) {
	switch msg := val.(type) {
	case *DataFrame:
		c.mx.RLock()
		p := c.ports[msg.Port]
		c.mx.RUnlock()
		if p != nil {
			p.deliver(msg.Data)
		}
	case *CmdStatus:
		if msg.Cmd == "Open" {
			c.openResult(msg.Port, nil)
		}
	case *ErrorMessage:
		c.log.Warn("server error", "error", msg.Error)
		c.openResult("", errors.New(msg.Error))
	case *SerialPortList:
		c.mx.Lock()
		c.serialPorts = msg.SerialPorts
		var reopen []*Port
		for _, sp := range msg.SerialPorts {
			if p := c.ports[sp.Name]; p != nil && !sp.IsOpen && c.opening[sp.Name] == nil {
				reopen = append(reopen, p)
			}
		}
		c.mx.Unlock()
		for _, p := range reopen {
			c.log.Info("reopening port", "port", p.name)
			go c.WriteString(p.openCmd())
		}
	}
}

// openResult completes a pending Open. An empty name fails every pending Open.
func (c *Client) openResult(name string, err error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	for n, ch := range c.opening {
		if name != "" && n != name {
			continue
		}
		ch <- err
		delete(c.opening, n)
	}
}

func (c *Client) loop() {
	defer close(c.doneCh)
	var nextUp message

reconnect:
	for {
		c.log.Info("connecting")
		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.log.Error("connect failed", "error", err)
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-c.closeCh:
				return
			}
		}
		c.log.Info("connected")
		ch := make(chan struct{})
		go c.readLoop(ws, ch)
		go c.WriteString("list") // refresh list on reconnect

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					c.log.Error("send failed", "error", err)
					ws.Close()
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-ch:
				ws.Close()
				continue reconnect
			case <-c.closeCh:
				ws.Close()
				<-ch
				return
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

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "cmd_" + strconv.FormatInt(id, 36)
}

// SendJSON queues data for a port and blocks until it has been sent.
func (c *Client) SendJSON(v JSON) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(append([]byte("sendjson "), data...))
}

// WriteString sends a raw server command and blocks until it has been sent.
func (c *Client) WriteString(data string) error {
	return c.send([]byte(data))
}

func (c *Client) send(payload []byte) error {
	ch := make(chan struct{})
	select {
	case c.outgoing <- message{done: ch, payload: payload}:
	case <-c.closeCh:
		return ErrClosed
	}
	select {
	case <-ch:
		return nil
	case <-c.closeCh:
		return ErrClosed
	}
}

// SerialPorts returns the port list most recently reported by the server.
func (c *Client) SerialPorts() []SerialPort {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return append([]SerialPort(nil), c.serialPorts...)
}

// Open opens a serial port on the server and waits for it to confirm.
func (c *Client) Open(ctx context.Context, name string, baud int) (*Port, error) {
	p := newPort(c, name, baud)
	wait := make(chan error, 1)

	c.mx.Lock()
	if c.ports[name] != nil {
		c.mx.Unlock()
		return nil, fmt.Errorf("spjs: port %s already open", name)
	}
	c.ports[name] = p
	c.opening[name] = wait
	c.mx.Unlock()

	fail := func(err error) (*Port, error) {
		c.mx.Lock()
		delete(c.ports, name)
		delete(c.opening, name)
		c.mx.Unlock()
		return nil, err
	}

	if err := c.WriteString(p.openCmd()); err != nil {
		return fail(err)
	}
	select {
	case <-ctx.Done():
		return fail(ctx.Err())
	case <-c.closeCh:
		return fail(ErrClosed)
	case err := <-wait:
		if err != nil {
			return fail(fmt.Errorf("spjs: open %s: %w", name, err))
		}
	}
	c.log.Info("port open", "port", name, "baud", baud)
	return p, nil
}

func (c *Client) release(p *Port) {
	c.mx.Lock()
	if c.ports[p.name] == p {
		delete(c.ports, p.name)
	}
	c.mx.Unlock()
}

// Close disconnects from the server. Open ports stop receiving data.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.closeCh)
		c.mx.Lock()
		ports := c.ports
		c.ports = map[string]*Port{}
		c.mx.Unlock()
		for _, p := range ports {
			p.shutdown()
		}
	})
	<-c.doneCh
	return nil
}
