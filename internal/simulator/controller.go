// Package simulator is a loopback stand-in for the SmallSMT controller. It
// answers request frames the way the real machine does and can be scripted
// to misbehave.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/smallsmt/internal/monitoring"
	"github.com/banshee-data/smallsmt/internal/network"
	"github.com/banshee-data/smallsmt/internal/protocol"
)

// Behaviour selects how the controller answers one request.
type Behaviour int

const (
	Normal  Behaviour = iota
	Fatal             // terminal response with status -1
	WrongID           // terminal response for another packet id, nothing else
	Garbage           // an unparseable datagram, nothing else
	Silent            // no response at all
)

func (b Behaviour) String() string {
	switch b {
	case Normal:
		return "normal"
	case Fatal:
		return "fatal"
	case WrongID:
		return "wrong-id"
	case Garbage:
		return "garbage"
	case Silent:
		return "silent"
	default:
		return "unknown"
	}
}

// Status codes returned by the simulator.
const (
	StatusOK          = 0
	StatusDisabled    = -1
	StatusUnsupported = -2
	StatusBadArgs     = -3
)

type Config struct {
	Address          string // where requests arrive, default 127.0.0.1:9070
	ReplyTo          string // where responses go, default 127.0.0.1:9072
	Provisionals     int    // provisional responses sent before every terminal one
	ProvisionalDelay time.Duration
	SocketFactory    network.UDPSocketFactory
}

// Controller is a fake machine controller.
type Controller struct {
	cfg      Config
	listener *network.Listener
	out      network.UDPSocket
	replyTo  *net.UDPAddr

	mu        sync.Mutex
	enabled   bool
	axes      protocol.Axes
	actuators map[string]float64
	script    []Behaviour
	requests  []protocol.Command
}

func New(cfg Config) *Controller {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:9070"
	}
	if cfg.ReplyTo == "" {
		cfg.ReplyTo = "127.0.0.1:9072"
	}
	if cfg.SocketFactory == nil {
		cfg.SocketFactory = network.NewRealUDPSocketFactory()
	}
	return &Controller{
		cfg: cfg,
		listener: network.NewListener(network.ListenerConfig{
			Address:       cfg.Address,
			SocketFactory: cfg.SocketFactory,
		}),
		actuators: make(map[string]float64),
	}
}

// Listen binds the request socket and opens the reply socket.
func (c *Controller) Listen() error {
	replyTo, err := net.ResolveUDPAddr("udp", c.cfg.ReplyTo)
	if err != nil {
		return fmt.Errorf("resolve reply address: %w", err)
	}
	out, err := c.cfg.SocketFactory.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("open reply socket: %w", err)
	}
	if err := c.listener.Listen(); err != nil {
		out.Close()
		return err
	}
	c.out = out
	c.replyTo = replyTo
	return nil
}

// Addr returns the bound request address.
func (c *Controller) Addr() net.Addr {
	if conn := c.listener.GetConn(); conn != nil {
		return conn.LocalAddr()
	}
	return nil
}

// Run serves requests until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if c.out == nil {
		return errors.New("simulator not listening")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.listener.Run(ctx) }()

	queue := c.listener.Queue()
	for {
		select {
		case <-ctx.Done():
			<-errCh
			return nil
		case err := <-errCh:
			return err
		case <-queue.Wake():
			for _, frame := range queue.Drain() {
				c.handle(ctx, frame)
			}
		}
	}
}

// Close releases both sockets.
func (c *Controller) Close() error {
	err := c.listener.Close()
	if c.out != nil {
		if cerr := c.out.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Script queues behaviours for the next requests, one per request. Requests
// beyond the script are answered normally.
func (c *Controller) Script(b ...Behaviour) {
	c.mu.Lock()
	c.script = append(c.script, b...)
	c.mu.Unlock()
}

// Requests returns every command received so far.
func (c *Controller) Requests() []protocol.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Command(nil), c.requests...)
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Controller) Axes() protocol.Axes {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.axes
}

// SetActuator presets the value reported by actuateRead.
func (c *Controller) SetActuator(name string, value float64) {
	c.mu.Lock()
	c.actuators[name] = value
	c.mu.Unlock()
}

func (c *Controller) handle(ctx context.Context, frame string) {
	id, cmd, err := protocol.DecodeRequest(frame)
	if err != nil {
		monitoring.Debugf("simulator: ignoring %q: %v", frame, err)
		return
	}

	c.mu.Lock()
	c.requests = append(c.requests, cmd)
	behaviour := Normal
	if len(c.script) > 0 {
		behaviour = c.script[0]
		c.script = c.script[1:]
	}
	c.mu.Unlock()

	monitoring.Debugf("simulator: packet %d %s (%s)", id, cmd, behaviour)
	switch behaviour {
	case Silent:
	case Garbage:
		c.reply("garbage")
	case WrongID:
		c.reply(protocol.FormatTerminal(id+1000, StatusOK, math.NaN(), c.Axes()))
	case Fatal:
		c.reply(protocol.FormatTerminal(id, StatusDisabled, math.NaN(), c.Axes()))
	default:
		for i := 0; i < c.cfg.Provisionals; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ProvisionalDelay):
			}
			c.reply(protocol.FormatProvisional(id, StatusOK))
		}
		status, value := c.execute(cmd)
		c.reply(protocol.FormatTerminal(id, status, value, c.Axes()))
	}
}

func (c *Controller) reply(frame string) {
	if _, err := c.out.WriteToUDP([]byte(frame), c.replyTo); err != nil {
		monitoring.Debugf("simulator: reply failed: %v", err)
	}
}

// execute applies cmd to the simulated machine and returns the terminal
// status and value.
func (c *Controller) execute(cmd protocol.Command) (int, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nan := math.NaN()
	if cmd.Verb == protocol.VerbSetEnabled {
		if len(cmd.Args) != 1 {
			return StatusBadArgs, nan
		}
		c.enabled = cmd.Args[0] == "1"
		return StatusOK, nan
	}
	if !cmd.Verb.IsKnown() {
		return StatusUnsupported, nan
	}
	if !c.enabled {
		return StatusDisabled, nan
	}

	switch cmd.Verb {
	case protocol.VerbHome:
		c.axes = protocol.Axes{}
	case protocol.VerbMoveTo:
		if len(cmd.Args) != 6 {
			return StatusBadArgs, nan
		}
		var v [4]float64
		for i := range v {
			f, err := cmd.FloatArg(i + 1)
			if err != nil {
				return StatusBadArgs, nan
			}
			v[i] = f
		}
		c.move(cmd.Args[0], v)
	case protocol.VerbActuate:
		if len(cmd.Args) != 2 {
			return StatusBadArgs, nan
		}
		f, err := cmd.FloatArg(1)
		if err != nil {
			return StatusBadArgs, nan
		}
		c.actuators[cmd.Args[0]] = f
	case protocol.VerbActuateRead:
		if len(cmd.Args) != 1 {
			return StatusBadArgs, nan
		}
		if v, ok := c.actuators[cmd.Args[0]]; ok {
			return StatusOK, v
		}
		return StatusOK, nan
	case protocol.VerbPick, protocol.VerbPlace:
		if len(cmd.Args) != 1 {
			return StatusBadArgs, nan
		}
	}
	return StatusOK, nan
}

// move applies x, y, z, rotation to the gantry and the nozzle's Z/C pair.
// Nozzles are named N1..N4; anything else drives pair 1. NaN leaves an axis.
func (c *Controller) move(nozzle string, v [4]float64) {
	keep := func(dst *float64, src float64) {
		if !math.IsNaN(src) {
			*dst = src
		}
	}
	keep(&c.axes.X, v[0])
	keep(&c.axes.Y, v[1])

	z, r := &c.axes.Z1, &c.axes.C1
	if n, err := strconv.Atoi(strings.TrimPrefix(nozzle, "N")); err == nil {
		switch n {
		case 2:
			z, r = &c.axes.Z2, &c.axes.C2
		case 3:
			z, r = &c.axes.Z3, &c.axes.C3
		case 4:
			z, r = &c.axes.Z4, &c.axes.C4
		}
	}
	keep(z, v[2])
	keep(r, v[3])
}
