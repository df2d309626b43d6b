package stream

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/droidcap/droidcap/internal/logger"
)

// State tracks the producer lifecycle
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	readChunkSize   = 4096
	stopJoinTimeout = 2 * time.Second
)

// Dialer opens the producer's transport. It is called synchronously from
// Start so connection errors surface to the caller before any goroutine
// exists.
type Dialer func() (io.ReadCloser, error)

// Producer owns a byte transport and runs the read-parse-publish loop on a
// single dedicated goroutine. The transport handle and the framer's parse
// state belong exclusively to that goroutine; the Buffer is the only shared
// structure.
type Producer struct {
	name   string
	dial   Dialer
	framer Framer
	buf    *Buffer

	state    atomic.Int32
	done     chan struct{}
	stopping atomic.Bool
	stopOnce sync.Once

	// mu serializes the transport handoff between Start and Stop so a Stop
	// racing a slow dial cannot strand a freshly opened connection.
	mu        sync.Mutex
	transport io.ReadCloser
}

// NewProducer creates a producer that reads from the transport opened by
// dial, frames bytes with framer, and publishes into buf. name tags log
// output.
func NewProducer(name string, dial Dialer, framer Framer, buf *Buffer) *Producer {
	return &Producer{
		name:   name,
		dial:   dial,
		framer: framer,
		buf:    buf,
		done:   make(chan struct{}),
	}
}

// Buffer returns the frame buffer the producer publishes into
func (p *Producer) Buffer() *Buffer {
	return p.buf
}

// State returns the current lifecycle state
func (p *Producer) State() State {
	return State(p.state.Load())
}

// Start opens the transport and spawns the read loop. Transport errors are
// fatal and returned synchronously; no goroutine exists on failure.
func (p *Producer) Start() error {
	if !p.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("producer %s already started", p.name)
	}

	transport, err := p.dial()
	if err != nil {
		p.state.Store(int32(StateStopped))
		close(p.done)
		return fmt.Errorf("failed to open %s transport: %w", p.name, err)
	}

	p.mu.Lock()
	if p.stopping.Load() {
		// Stop won the race while the dial was in flight; the fresh
		// connection must not leak and no read loop may start.
		p.mu.Unlock()
		transport.Close()
		p.state.Store(int32(StateStopped))
		close(p.done)
		return fmt.Errorf("producer %s stopped during start", p.name)
	}
	p.transport = transport
	p.mu.Unlock()

	p.state.Store(int32(StateRunning))
	go p.readLoop()

	return nil
}

// readLoop reads chunks from the transport, hands them to the framer, and
// publishes every completed frame. Orderly transport closure (EOF, closed
// socket, connection reset) ends the loop without raising.
func (p *Producer) readLoop() {
	log := logger.WithComponent(p.name)
	defer close(p.done)

	chunk := make([]byte, readChunkSize)
	for {
		if p.stopping.Load() {
			break
		}

		n, err := p.transport.Read(chunk)
		if n > 0 {
			frames, ferr := p.framer.Feed(chunk[:n])
			for _, f := range frames {
				p.buf.Publish(f)
			}
			if ferr != nil {
				log.Error().Err(ferr).Msg("Framer cannot continue, stopping read loop")
				break
			}
		}
		if err != nil {
			if isOrderlyClose(err) {
				log.Debug().Msg("Transport closed, read loop exiting")
			} else {
				log.Error().Err(err).Msg("Transport read failed, read loop exiting")
			}
			break
		}
	}

	// CAS so an explicit Stop keeps ownership of the Stopping->Stopped edge.
	p.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
	log.Debug().Uint64("frames", p.buf.Count()).Msg("Read loop exited")
}

// isOrderlyClose reports whether a read error signals normal transport
// shutdown rather than a failure worth logging at error level. A connection
// reset from the device side is routine when the remote process dies.
func isOrderlyClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}

// Stop shuts the producer down: it flags the loop, closes the transport to
// unblock any pending read, joins the goroutine with a bounded wait, and
// closes the buffer so blocked consumers observe ErrStopped. Idempotent and
// safe to call concurrently with a pending Latest on another goroutine.
func (p *Producer) Stop() {
	p.stopOnce.Do(func() {
		log := logger.WithComponent(p.name)

		prev := State(p.state.Swap(int32(StateStopping)))
		p.stopping.Store(true)

		p.mu.Lock()
		transport := p.transport
		p.mu.Unlock()
		if transport != nil {
			if err := transport.Close(); err != nil && !isOrderlyClose(err) {
				log.Debug().Err(err).Msg("Transport close")
			}
		}

		if prev == StateRunning || prev == StateStarting {
			// The closed transport guarantees eventual loop exit; don't
			// hang the caller if the goroutine is slow to observe it.
			select {
			case <-p.done:
			case <-time.After(stopJoinTimeout):
				log.Warn().Msg("Read loop did not exit in time, proceeding")
			}
		}

		p.state.Store(int32(StateStopped))
		p.buf.Close()
		log.Info().Msg("Producer stopped")
	})
}

// Alive reports whether the read loop is still running. A false result with
// an empty buffer means the producer died and waiting for frames is
// pointless; a true result means the consumer should keep waiting.
func (p *Producer) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	return p.State() == StateRunning
}

// Done returns a channel closed when the read loop has exited
func (p *Producer) Done() <-chan struct{} {
	return p.done
}

// Frames returns a fresh iterator over frames published after this call.
/// The iterator is bound to this producer: it ends with ErrStopped when the
// read loop exits, so iteration never hangs on a dead transport.
func (p *Producer) Frames() *Iterator {
	it := p.buf.Iter()
	it.done = p.done
	return it
}
