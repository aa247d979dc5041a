// Package driver talks to an external SmallSMT motion controller over UDP.
// It turns the connectionless link into a blocking single-flight RPC channel
// and tracks the absolute position of every head it moves.
package driver

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/smallsmt/internal/monitoring"
	"github.com/banshee-data/smallsmt/internal/network"
	"github.com/banshee-data/smallsmt/internal/position"
	"github.com/banshee-data/smallsmt/internal/protocol"
	"github.com/banshee-data/smallsmt/internal/timeutil"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultDriverPort      = 9070
	DefaultListenPort      = 9072
	DefaultResponseTimeout = 500 * time.Millisecond
	DefaultJoinTimeout     = 3 * time.Second
)

// Config holds the transport settings of a Driver. Zero values take the
// defaults above.
type Config struct {
	Host            string
	DriverPort      int // controller's command port
	ListenPort      int // our response port
	ResponseTimeout time.Duration
	ReceiveTimeout  time.Duration
	JoinTimeout     time.Duration
	MaxDispatchTime time.Duration // zero means provisional responses may extend a dispatch forever
	RcvBuf          int
	StatsInterval   time.Duration
	PacketStats     network.PacketStatsInterface
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.DriverPort == 0 {
		c.DriverPort = DefaultDriverPort
	}
	if c.ListenPort == 0 {
		c.ListenPort = DefaultListenPort
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = network.DefaultReadTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	return c
}

// Option customises a Driver.
type Option func(*Driver)

// WithSocketFactory replaces the real UDP sockets, typically with mocks.
func WithSocketFactory(f network.UDPSocketFactory) Option {
	return func(d *Driver) { d.factory = f }
}

// WithClock replaces the clock used for response windows.
func WithClock(c timeutil.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithActivitySink sets the sink notified after every successful move.
func WithActivitySink(s ActivitySink) Option {
	return func(d *Driver) {
		if s != nil {
			d.activity = s
		}
	}
}

// WithTracker shares an existing position tracker.
func WithTracker(t *position.Tracker) Option {
	return func(d *Driver) { d.tracker = t }
}

// Driver is the controller client. All methods are safe for concurrent use;
// commands are serialised and run one at a time.
type Driver struct {
	cfg      Config
	factory  network.UDPSocketFactory
	clock    timeutil.Clock
	tracker  *position.Tracker
	activity ActivitySink
	stats    *DispatchStats

	lifecycleMu sync.Mutex // serialises connect, disconnect and enable
	cmdMu       sync.Mutex // single-flight command lock
	packetID    atomic.Uint32

	stateMu sync.RWMutex
	state   ConnectionState
	sess    *session

	lastMu  sync.RWMutex
	last    protocol.Response
	hasLast bool

	feedRate atomic.Uint64 // float64 bits, mm per minute
}

func New(cfg Config, opts ...Option) *Driver {
	d := &Driver{
		cfg:      cfg.withDefaults(),
		factory:  network.NewRealUDPSocketFactory(),
		clock:    timeutil.RealClock{},
		tracker:  position.NewTracker(),
		activity: noopActivity{},
		stats:    NewDispatchStats(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Config() Config { return d.cfg }

// Connect opens both sockets, starts the listener and brings the controller
// to its disabled state. It is a no-op when already connected.
func (d *Driver) Connect() error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	return d.connectLocked()
}

func (d *Driver) connectLocked() error {
	if sess, _ := d.snapshot(); sess != nil {
		return nil
	}

	sess, err := openSession(d.cfg, d.factory)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	// no response may be consumed before the session is installed
	d.cmdMu.Lock()
	d.stateMu.Lock()
	d.sess = sess
	d.stateMu.Unlock()
	sess.start()
	d.cmdMu.Unlock()

	monitoring.Logf("session %s: listening on port %d, controller at %s", sess.id, d.cfg.ListenPort, sess.remote)

	if _, err := d.send(protocol.SetEnabled(false), true); err != nil {
		d.disconnectLocked()
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	d.setState(StateConnectedDisabled)
	return nil
}

// Disconnect stops the listener and closes both sockets. Safe to call when
// already disconnected. A dispatch in flight times out.
func (d *Driver) Disconnect() {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	d.disconnectLocked()
}

func (d *Driver) disconnectLocked() {
	d.stateMu.Lock()
	sess := d.sess
	d.sess = nil
	d.state = StateDisconnected
	d.stateMu.Unlock()

	if sess == nil {
		return
	}
	sess.close(d.cfg.JoinTimeout)
	monitoring.Logf("session %s: disconnected", sess.id)
}

// Close disconnects.
func (d *Driver) Close() error {
	d.Disconnect()
	return nil
}

// SetEnabled enables or disables the machine. Enabling connects first when
// needed and fails if the controller does not acknowledge. Disabling is best
// effort and always ends disconnected.
func (d *Driver) SetEnabled(enabled bool) error {
	monitoring.Debugf("setEnabled(%t)", enabled)
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if enabled {
		if err := d.connectLocked(); err != nil {
			return fmt.Errorf("%w: %w", ErrEnable, err)
		}
		if _, err := d.send(protocol.SetEnabled(true), true); err != nil {
			return fmt.Errorf("%w: %w", ErrEnable, err)
		}
		d.setState(StateConnectedEnabled)
		return nil
	}

	if sess, _ := d.snapshot(); sess != nil {
		if _, err := d.send(protocol.SetEnabled(false), true); err != nil {
			monitoring.Logf("disable not acknowledged, disconnecting anyway: %v", err)
		}
	}
	d.disconnectLocked()
	return nil
}

// Home homes the machine and resets the head to the origin.
func (d *Driver) Home(head string) error {
	monitoring.Debugf("home()")
	if _, err := d.send(protocol.Home(), false); err != nil {
		return err
	}
	d.tracker.UpdateAfterMove(head, position.Origin)
	return nil
}

// MoveTo moves mountable m so that its tool point reaches loc (millimetres).
// NaN axes are left where they are.
func (d *Driver) MoveTo(m position.Mountable, loc position.Location, speed float64) error {
	monitoring.Debugf("moveTo(%s, %s, %g)", m, loc, speed)
	abs := loc.Subtract(m.Offset)
	cmd := protocol.MoveTo(m.Name, abs.X, abs.Y, abs.Z, abs.Rotation, speed)
	if _, err := d.send(cmd, false); err != nil {
		return err
	}
	d.tracker.UpdateAfterMove(m.Head, abs)
	d.activity.HeadActivity(m.Head)
	return nil
}

func (d *Driver) Pick(nozzle string) error {
	monitoring.Debugf("pick(%s)", nozzle)
	_, err := d.send(protocol.Pick(nozzle), false)
	return err
}

func (d *Driver) Place(nozzle string) error {
	monitoring.Debugf("place(%s)", nozzle)
	_, err := d.send(protocol.Place(nozzle), false)
	return err
}

func (d *Driver) Actuate(actuator string, value float64) error {
	monitoring.Debugf("actuate(%s, %g)", actuator, value)
	_, err := d.send(protocol.Actuate(actuator, value), false)
	return err
}

func (d *Driver) ActuateBool(actuator string, on bool) error {
	monitoring.Debugf("actuate(%s, %t)", actuator, on)
	_, err := d.send(protocol.ActuateBool(actuator, on), false)
	return err
}

// ActuateRead returns the value field of the controller's terminal response.
// The value may be NaN.
func (d *Driver) ActuateRead(actuator string) (float64, error) {
	monitoring.Debugf("actuateRead(%s)", actuator)
	resp, err := d.send(protocol.ActuateRead(actuator), false)
	if err != nil {
		return math.NaN(), err
	}
	return resp.Value, nil
}

// Location returns the absolute location of the mountable's tool point.
func (d *Driver) Location(m position.Mountable) position.Location {
	return d.tracker.Resolve(m)
}

func (d *Driver) HeadLocation(head string) position.Location {
	return d.tracker.HeadLocation(head)
}

func (d *Driver) Tracker() *position.Tracker { return d.tracker }

// LastResponse returns the most recent correlated response, provisional or
// terminal.
func (d *Driver) LastResponse() (protocol.Response, bool) {
	d.lastMu.RLock()
	defer d.lastMu.RUnlock()
	return d.last, d.hasLast
}

func (d *Driver) setLast(r protocol.Response) {
	d.lastMu.Lock()
	d.last = r
	d.hasLast = true
	d.lastMu.Unlock()
}

func (d *Driver) State() ConnectionState {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

// SessionID returns the id of the current session, or "" when disconnected.
func (d *Driver) SessionID() string {
	sess, _ := d.snapshot()
	if sess == nil {
		return ""
	}
	return sess.id
}

// PacketID returns the id of the most recently sent command.
func (d *Driver) PacketID() uint32 { return d.packetID.Load() }

func (d *Driver) Stats() *DispatchStats { return d.stats }

// FeedRate returns the configured feed rate in mm per minute.
func (d *Driver) FeedRate() float64 {
	return math.Float64frombits(d.feedRate.Load())
}

func (d *Driver) SetFeedRate(mmPerMinute float64) error {
	if math.IsNaN(mmPerMinute) || math.IsInf(mmPerMinute, 0) || mmPerMinute < 0 {
		return fmt.Errorf("invalid feed rate %v: must be a finite value >= 0", mmPerMinute)
	}
	d.feedRate.Store(math.Float64bits(mmPerMinute))
	return nil
}

func (d *Driver) snapshot() (*session, ConnectionState) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.sess, d.state
}

func (d *Driver) setState(s ConnectionState) {
	d.stateMu.Lock()
	d.state = s
	d.stateMu.Unlock()
}
