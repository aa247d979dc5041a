package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the driver and the simulator use.
// Mocks stand in for it in tests.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

var _ UDPSocket = (*net.UDPConn)(nil)

// UDPSocketFactory opens sockets. A nil or zero-port laddr binds an
// ephemeral port.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory opens operating system sockets.
type RealUDPSocketFactory struct{}

func NewRealUDPSocketFactory() *RealUDPSocketFactory {
	return &RealUDPSocketFactory{}
}

func (f *RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPPacket represents a packet for mock testing.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockUDPSocket implements UDPSocket for testing. Inbound packets are
// delivered with Deliver; reads block until a packet arrives, the read
// deadline passes or the socket is closed. Writes are recorded and passed to
// OnWrite when set.
type MockUDPSocket struct {
	inbound chan MockUDPPacket
	closed  chan struct{}

	mu           sync.Mutex
	closeOnce    sync.Once
	readDeadline time.Time
	written      []MockUDPPacket

	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
	// ReadBufferSize holds the value set by SetReadBuffer.
	ReadBufferSize int
	// ReadError is returned once by the next ReadFromUDP call if set.
	ReadError error
	// WriteError is returned by every WriteToUDP call if set.
	WriteError error
	// OnWrite, when set, observes every successful write. It runs on the
	// writer's goroutine.
	OnWrite func(data []byte, addr *net.UDPAddr)
}

// NewMockUDPSocket creates a new MockUDPSocket bound to port.
func NewMockUDPSocket(port int) *MockUDPSocket {
	return &MockUDPSocket{
		inbound: make(chan MockUDPPacket, 1024),
		closed:  make(chan struct{}),
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: port,
		},
	}
}

// Deliver queues a packet for the next ReadFromUDP.
func (m *MockUDPSocket) Deliver(data []byte) {
	select {
	case <-m.closed:
	case m.inbound <- MockUDPPacket{Data: append([]byte(nil), data...)}:
	}
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error) {
	m.mu.Lock()
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		m.mu.Unlock()
		return 0, nil, err
	}
	deadline := m.readDeadline
	m.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-m.closed:
		return 0, nil, net.ErrClosed
	case pkt := <-m.inbound:
		return copy(b, pkt.Data), pkt.Addr, nil
	case <-timeout:
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
}

func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	select {
	case <-m.closed:
		return 0, net.ErrClosed
	default:
	}

	m.mu.Lock()
	if m.WriteError != nil {
		err := m.WriteError
		m.mu.Unlock()
		return 0, err
	}
	pkt := MockUDPPacket{Data: append([]byte(nil), b...), Addr: addr}
	m.written = append(m.written, pkt)
	onWrite := m.OnWrite
	m.mu.Unlock()

	if onWrite != nil {
		onWrite(pkt.Data, addr)
	}
	return len(b), nil
}

// Written returns a copy of every packet written so far.
func (m *MockUDPSocket) Written() []MockUDPPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockUDPPacket(nil), m.written...)
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readDeadline = t
	return nil
}

// Close marks the socket as closed. Safe to call more than once.
func (m *MockUDPSocket) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockUDPSocket) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// MockUDPSocketFactory implements UDPSocketFactory for testing. A call bound
// to a non-zero port returns Bound[port]; an ephemeral bind returns Ephemeral.
type MockUDPSocketFactory struct {
	mu sync.Mutex

	Ephemeral *MockUDPSocket
	Bound     map[int]*MockUDPSocket
	// Error is returned by ListenUDP if set.
	Error error
	// ListenCalls records all ListenUDP calls.
	ListenCalls []MockListenCall
}

// MockListenCall records a call to ListenUDP.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

// NewMockUDPSocketFactory creates a factory handing out the given sockets.
func NewMockUDPSocketFactory(ephemeral *MockUDPSocket, bound ...*MockUDPSocket) *MockUDPSocketFactory {
	f := &MockUDPSocketFactory{Ephemeral: ephemeral, Bound: make(map[int]*MockUDPSocket)}
	for _, s := range bound {
		f.Bound[s.LocalAddress.Port] = s
	}
	return f
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListenCalls = append(f.ListenCalls, MockListenCall{Network: network, Addr: laddr})
	if f.Error != nil {
		return nil, f.Error
	}
	if laddr == nil || laddr.Port == 0 {
		if f.Ephemeral == nil {
			return nil, &net.OpError{Op: "listen", Net: network, Err: errNoMockSocket}
		}
		return f.Ephemeral, nil
	}
	s, ok := f.Bound[laddr.Port]
	if !ok {
		return nil, &net.OpError{Op: "listen", Net: network, Addr: laddr, Err: errNoMockSocket}
	}
	return s, nil
}

// Calls returns a copy of the recorded ListenUDP calls.
func (f *MockUDPSocketFactory) Calls() []MockListenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MockListenCall(nil), f.ListenCalls...)
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errNoMockSocket = mockError("no mock socket for address")

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
