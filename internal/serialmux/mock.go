package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// replayPort feeds a fixed set of lines to Monitor, one per interval,
// looping forever. Commands written to it are discarded.
type replayPort struct {
	*io.PipeReader
	w    *io.PipeWriter
	done chan struct{}
	once sync.Once
}

func (p *replayPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *replayPort) Close() error {
	p.once.Do(func() { close(p.done) })
	p.w.Close()
	return p.PipeReader.Close()
}

// NewReplaySerialMux creates a mux that prints lines in a loop, one every
// interval. The -dev mode uses it to run without a receiver.
func NewReplaySerialMux(lines []string, interval time.Duration) *SerialMux[SerialPorter] {
	r, w := io.Pipe()
	port := &replayPort{PipeReader: r, w: w, done: make(chan struct{})}

	go func() {
		defer w.Close()
		if len(lines) == 0 {
			<-port.done
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-port.done:
				return
			case <-ticker.C:
				if _, err := io.WriteString(w, lines[i%len(lines)]+"\n"); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux[SerialPorter](port)
}

// SyntheticPassLines returns receiver lines for one beacon approaching and
// leaving the timing line, without timestamps.
func SyntheticPassLines(beaconID int) []string {
	profile := []int{-95, -91, -87, -83, -79, -76, -72, -68, -64, -60, -64, -67, -70, -74, -78, -81, -84, -88, -92, -95}
	lines := make([]string, len(profile))
	for i, level := range profile {
		lines[i] = fmt.Sprintf("%s%d,%d", BeaconNamePrefix, beaconID, level)
	}
	return lines
}

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory receiver. Reads drain what AddReadData
// queued and then report EOF, unless BlockReads is set, in which case they
// wait for more data or Close. Writes are captured for GetWrittenData.
// ReadError and WriteError fail the next call once.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	in  bytes.Buffer
	out bytes.Buffer

	ReadError  error
	WriteError error
	BlockReads bool
	Closed     bool
}

func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeError(&p.ReadError); err != nil {
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.in.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.in.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeError(&p.WriteError); err != nil {
		return 0, err
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.out.Write(b)
}

// takeError returns and clears a one-shot error. Callers hold mu.
func (p *TestableSerialPort) takeError(slot *error) error {
	err := *slot
	*slot = nil
	return err
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// AddReadData queues receiver output for Read.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(data)
	p.cond.Broadcast()
}

// GetWrittenData returns a copy of every command written so far.
func (p *TestableSerialPort) GetWrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.out.Bytes())
}
