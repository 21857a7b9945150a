package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/banshee-data/motiongen/internal/fanout"
)

// maxDatagram bounds a single sensor datagram.
const maxDatagram = 64 * 1024

// readPoll bounds each blocking read so cancellation is noticed.
const readPoll = 100 * time.Millisecond

// ListenerConfig configures a UDP sensor listener.
type ListenerConfig struct {
	// Address is the host:port to bind, e.g. ":9870".
	Address string
	// RcvBuf is the requested kernel receive buffer. Zero keeps the default.
	RcvBuf int
	// Sockets creates the socket. Nil means RealUDPSocketFactory.
	Sockets UDPSocketFactory
	// Capture, when set, records every received datagram.
	Capture *Capture
	Logger  zerolog.Logger
}

// ListenerStats counts datagram traffic.
type ListenerStats struct {
	Datagrams  uint64       `json:"datagrams"`
	Bytes      uint64       `json:"bytes"`
	ReadErrors uint64       `json:"read_errors"`
	Hub        fanout.Stats `json:"hub"`
}

// Listener receives sensor messages over UDP and publishes each line of
// each datagram to its subscribers.
type Listener struct {
	*fanout.Hub
	cfg ListenerConfig
	log zerolog.Logger

	mu    sync.Mutex
	local net.Addr

	datagrams  atomic.Uint64
	bytes      atomic.Uint64
	readErrors atomic.Uint64
}

func NewListener(cfg ListenerConfig) *Listener {
	if cfg.Sockets == nil {
		cfg.Sockets = RealUDPSocketFactory{}
	}
	return &Listener{
		Hub: fanout.New(fanout.DefaultBuffer),
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "udp").Str("addr", cfg.Address).Logger(),
	}
}

// Run binds the socket and receives until ctx is cancelled, then closes
// every subscriber. It returns ctx.Err() on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	defer l.Hub.Close()

	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.Sockets.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			l.log.Warn().Err(err).Int("rcvbuf", l.cfg.RcvBuf).Msg("failed to set UDP receive buffer")
		}
	}
	l.mu.Lock()
	l.local = conn.LocalAddr()
	l.mu.Unlock()
	l.log.Info().Stringer("local", conn.LocalAddr()).Msg("UDP listener started")

	dst, _ := conn.LocalAddr().(*net.UDPAddr)
	buffer := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			l.log.Info().Msg("UDP listener stopping")
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readPoll))

		n, src, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.readErrors.Add(1)
			l.log.Warn().Err(err).Msg("UDP read error")
			continue
		}

		payload := buffer[:n]
		l.datagrams.Add(1)
		l.bytes.Add(uint64(n))
		if l.cfg.Capture != nil {
			if err := l.cfg.Capture.WriteDatagram(time.Now(), src, dst, payload); err != nil {
				l.log.Warn().Err(err).Msg("capture write failed")
			}
		}
		splitLines(payload, l.Hub.Publish)
	}
}

// LocalAddr is the bound address once Run has started, else nil.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local
}

func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Datagrams:  l.datagrams.Load(),
		Bytes:      l.bytes.Load(),
		ReadErrors: l.readErrors.Load(),
		Hub:        l.Hub.Stats(),
	}
}
