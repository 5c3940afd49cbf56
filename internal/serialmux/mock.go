package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory SerialPorter for tests. Reads block
// until data is queued or the port is closed, like a real line with no
// traffic. A Responder turns every written command into device output, which
// is enough to script the range bridge.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	read    bytes.Buffer
	written bytes.Buffer

	// Responder, if set, is called with each written command (without the
	// trailing newline) with the port locked, and its return value is queued
	// for reading.
	Responder func(command string) string

	// ReadError is returned once by the next Read.
	ReadError error
	// WriteError is returned once by the next Write.
	WriteError error
	// CloseError is returned by Close.
	CloseError error

	Closed     bool
	WriteCalls int
}

// NewTestableSerialPort returns an empty open port.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.ReadError != nil {
			err := p.ReadError
			p.ReadError = nil
			return 0, err
		}
		if p.Closed {
			return 0, errPortClosed
		}
		if p.read.Len() > 0 {
			return p.read.Read(b)
		}
		p.cond.Wait()
	}
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WriteCalls++
	if p.Closed {
		return 0, errPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	p.written.Write(b)
	if p.Responder != nil {
		for _, cmd := range bytes.Split(bytes.TrimRight(b, "\n"), []byte("\n")) {
			if reply := p.Responder(string(cmd)); reply != "" {
				p.read.WriteString(reply)
				p.cond.Broadcast()
			}
		}
	}
	return len(b), nil
}

// Close marks the port closed and wakes blocked readers.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return p.CloseError
}

// AddReadData queues device output.
func (p *TestableSerialPort) AddReadData(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.read.WriteString(data)
	p.cond.Broadcast()
}

// Written returns everything written to the port so far.
func (p *TestableSerialPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// FailNextRead makes the next Read return err, waking a blocked reader.
func (p *TestableSerialPort) FailNextRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadError = err
	p.cond.Broadcast()
}
