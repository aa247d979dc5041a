package driver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/smallsmt/internal/monitoring"
	"github.com/banshee-data/smallsmt/internal/network"
)

// session owns everything that exists only while connected: both sockets,
// the listener goroutine and its queue. It is built by connect and torn down
// by disconnect; nothing outlives it.
type session struct {
	id       string
	remote   *net.UDPAddr
	outbound network.UDPSocket
	listener *network.Listener
	queue    *network.ResponseQueue
	cancel   context.CancelFunc
	done     chan struct{}
}

func openSession(cfg Config, factory network.UDPSocketFactory) (*session, error) {
	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.DriverPort)))
	if err != nil {
		return nil, fmt.Errorf("resolve controller address: %w", err)
	}

	outbound, err := factory.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open outbound socket: %w", err)
	}

	queue := network.NewResponseQueue()
	listener := network.NewListener(network.ListenerConfig{
		Address:       net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.ListenPort)),
		RcvBuf:        cfg.RcvBuf,
		ReadTimeout:   cfg.ReceiveTimeout,
		LogInterval:   cfg.StatsInterval,
		Queue:         queue,
		Stats:         cfg.PacketStats,
		SocketFactory: factory,
	})
	if err := listener.Listen(); err != nil {
		outbound.Close()
		return nil, fmt.Errorf("open inbound socket: %w", err)
	}

	return &session{
		id:       uuid.NewString(),
		remote:   remote,
		outbound: outbound,
		listener: listener,
		queue:    queue,
		done:     make(chan struct{}),
	}, nil
}

// start runs the listener until close.
func (s *session) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		if err := s.listener.Run(ctx); err != nil && err != context.Canceled {
			monitoring.Logf("session %s: listener stopped: %v", s.id, err)
		}
	}()
}

// close cancels the listener, waits up to joinTimeout for it to exit and
// closes both sockets.
func (s *session) close(joinTimeout time.Duration) {
	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(joinTimeout):
			monitoring.Logf("session %s: listener did not stop within %v", s.id, joinTimeout)
		}
	}
	if err := s.listener.Close(); err != nil {
		monitoring.Logf("session %s: closing inbound socket: %v", s.id, err)
	}
	if err := s.outbound.Close(); err != nil {
		monitoring.Logf("session %s: closing outbound socket: %v", s.id, err)
	}
}

func (s *session) send(frame []byte) error {
	_, err := s.outbound.WriteToUDP(frame, s.remote)
	return err
}
