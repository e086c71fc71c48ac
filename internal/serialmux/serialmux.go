// Package serialmux multiplexes the BLE receiver's serial port: many
// subscribers read the advertisement lines it prints while commands are
// written to the single device.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/split.report/internal/timeutil"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// SubscriberBuffer is the number of lines a subscriber may lag behind
// before Monitor starts dropping lines for it.
const SubscriberBuffer = 256

// SerialMuxInterface is what the ingest loop, the API and the daemon need
// from a receiver.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel of receiver lines. The channel is
	// closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one command line to the receiver.
	SendCommand(string) error
	// Monitor reads lines until ctx is done or the port fails.
	Monitor(context.Context) error
	Close() error
	// Initialize syncs the receiver clock and starts scanning.
	Initialize() error
	Stats() MuxStats
	// AttachAdminRoutes adds the console and live tail under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// MuxStats counts receiver traffic since the mux was created.
type MuxStats struct {
	LinesRead    int64 `json:"lines_read"`
	LinesDropped int64 `json:"lines_dropped"`
	CommandsSent int64 `json:"commands_sent"`
	Subscribers  int   `json:"subscribers"`
	LastLineMs   int64 `json:"last_line_ms,omitempty"`
}

// SerialMux fans the lines of one port out to any number of subscribers.
type SerialMux[T SerialPorter] struct {
	port  T
	clock timeutil.Clock
	hub   *hub

	commandMu    sync.Mutex
	commandsSent atomic.Int64
	linesRead    atomic.Int64
	lastLineMs   atomic.Int64
}

// NewSerialMux wraps port. Initialize stamps the receiver with the real
// clock unless SetClock replaces it.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:  port,
		clock: timeutil.RealClock{},
		hub:   newHub(),
	}
}

// SetClock replaces the clock used for the receiver time sync.
func (s *SerialMux[T]) SetClock(c timeutil.Clock) {
	s.clock = c
}

func (s *SerialMux[T]) Subscribe() (string, chan string) { return s.hub.subscribe() }

func (s *SerialMux[T]) Unsubscribe(id string) { s.hub.unsubscribe(id) }

// InitCommands are sent to the receiver after the clock sync.
var InitCommands = []string{
	"RESET",         // drop any previous scan configuration
	"FORMAT CSV",    // beaconId,rssi,timestampMs per line
	"FILTER PT-",    // only report timing beacons
	"DUPLICATES ON", // report every advertisement, not only the first
	"SCAN ON",       // start scanning
}

// Initialize sets the receiver clock to Unix milliseconds, then sends
// InitCommands so that ParseSample can decode every line it prints.
func (s *SerialMux[T]) Initialize() error {
	if err := s.SendCommand(fmt.Sprintf("TIME=%d", s.clock.NowMs())); err != nil {
		return fmt.Errorf("failed to synchronize clock: %w", err)
	}
	for _, command := range InitCommands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes command, newline terminated, to the port. Concurrent
// callers are serialized so commands never interleave.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	s.commandsSent.Add(1)
	return nil
}

// Monitor reads the port line by line and hands each line to every
// subscriber. It returns nil at EOF or after Close, ctx.Err() on
// cancellation, and the read error otherwise.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines, readErr := scanLines(ctx, s.port)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if s.hub.isClosed() {
				return nil
			}
			s.linesRead.Add(1)
			s.lastLineMs.Store(s.clock.NowMs())
			s.hub.broadcast(line)
		}
	}
}

// scanLines runs the blocking scanner in its own goroutine so Monitor can
// watch ctx at the same time. The error channel only carries scanner errors;
// a clean EOF closes the line channel.
func scanLines(ctx context.Context, r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scan := bufio.NewScanner(r)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			errs <- err
			return
		}
		close(lines)
	}()
	return lines, errs
}

// Close closes every subscriber channel, then the port.
func (s *SerialMux[T]) Close() error {
	s.hub.closeAll()
	return s.port.Close()
}

// Stats reports traffic counters.
func (s *SerialMux[T]) Stats() MuxStats {
	return MuxStats{
		LinesRead:    s.linesRead.Load(),
		LinesDropped: s.hub.dropped.Load(),
		CommandsSent: s.commandsSent.Load(),
		Subscribers:  s.hub.count(),
		LastLineMs:   s.lastLineMs.Load(),
	}
}

// randomID returns 8 random bytes, hex encoded.
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// hub is the subscriber registry shared by the real and disabled muxes.
type hub struct {
	mu      sync.Mutex
	subs    map[string]chan string
	closed  bool
	dropped atomic.Int64
}

func newHub() *hub {
	return &hub{subs: make(map[string]chan string)}
}

// subscribe registers a buffered channel. After closeAll the channel comes
// back already closed so readers see the shutdown immediately.
func (h *hub) subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, SubscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

func (h *hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// broadcast never blocks: a subscriber with a full buffer loses the line.
func (h *hub) broadcast(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
			h.dropped.Add(1)
		}
	}
}

// closeAll reports whether this call did the closing.
func (h *hub) closeAll() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	return true
}

func (h *hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
