package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/smallsmt/internal/monitoring"
)

// DefaultReadTimeout bounds every receive so cancellation is observed promptly.
const DefaultReadTimeout = 500 * time.Millisecond

// MaxDatagram is the largest payload the controller sends.
const MaxDatagram = 1024

// Listener owns the inbound socket and moves every received datagram onto a
// ResponseQueue until its context is cancelled.
type Listener struct {
	address       string
	rcvBuf        int
	readTimeout   time.Duration
	logInterval   time.Duration
	queue         *ResponseQueue
	stats         PacketStatsInterface
	socketFactory UDPSocketFactory

	connMu sync.RWMutex // Protects conn field
	conn   UDPSocket
}

// ListenerConfig contains configuration options for the Listener
type ListenerConfig struct {
	Address       string
	RcvBuf        int // OS receive buffer; zero keeps the system default
	ReadTimeout   time.Duration
	LogInterval   time.Duration // zero disables periodic stats logging
	Queue         *ResponseQueue
	Stats         PacketStatsInterface
	SocketFactory UDPSocketFactory // Optional: factory for creating UDP sockets (for testing)
}

// NewListener creates a new Listener with the provided configuration
func NewListener(config ListenerConfig) *Listener {
	var stats PacketStatsInterface
	if config.Stats != nil {
		stats = config.Stats
	} else {
		stats = &noopStats{}
	}

	readTimeout := config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	socketFactory := config.SocketFactory
	if socketFactory == nil {
		socketFactory = NewRealUDPSocketFactory()
	}

	queue := config.Queue
	if queue == nil {
		queue = NewResponseQueue()
	}

	return &Listener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		readTimeout:   readTimeout,
		logInterval:   config.LogInterval,
		queue:         queue,
		stats:         stats,
		socketFactory: socketFactory,
	}
}

// Queue returns the queue datagrams are pushed onto.
func (l *Listener) Queue() *ResponseQueue {
	return l.queue
}

// Listen binds the inbound socket. Binding is separate from Run so that a
// busy port is reported to the caller synchronously.
func (l *Listener) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	l.setConn(conn)
	monitoring.Debugf("listener bound to %s", conn.LocalAddr())
	return nil
}

// Run receives datagrams until ctx is cancelled. Receive timeouts are the
// normal idle case; other read errors are counted and ignored.
func (l *Listener) Run(ctx context.Context) error {
	conn := l.GetConn()
	if conn == nil {
		return errors.New("listener not bound")
	}

	if l.logInterval > 0 {
		go l.startStatsLogging(ctx)
	}

	buffer := make([]byte, MaxDatagram)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil && !deadlineErrLogged {
			monitoring.Logf("failed to set read deadline: %v", err)
			deadlineErrLogged = true
		}

		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// peer unreachable; keep listening
			l.stats.AddReadError()
			monitoring.Debugf("UDP read error: %v", err)
			continue
		}

		l.stats.AddPacket(n)
		payload := string(buffer[:n])
		monitoring.Debugf("received(%s)", payload)
		l.queue.Push(payload)
	}
}

// startStatsLogging periodically logs packet statistics
func (l *Listener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

func (l *Listener) setConn(conn UDPSocket) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.conn = conn
}

// GetConn returns the connection with mutex protection
func (l *Listener) GetConn() UDPSocket {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conn
}

// Close closes the listener socket.
// It is safe to call Close multiple times.
func (l *Listener) Close() error {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
