// Package publish streams dispatched motion commands to gRPC clients.
package publish

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/motiongen/internal/control"
	"github.com/banshee-data/motiongen/internal/dispatch"
)

// Config holds configuration for the command stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// ClientBuffer is the per-client queue length. A client that falls
	// this far behind misses commands.
	ClientBuffer int

	Logger zerolog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		ClientBuffer: 64,
		Logger:       zerolog.Nop(),
	}
}

// Publisher is a dispatch.Sink that serves the command stream.
type Publisher struct {
	config Config
	log    zerolog.Logger
	server *grpc.Server

	cmdChan   chan *dispatch.Command
	clients   map[string]*client
	clientsMu sync.RWMutex

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type client struct {
	id     string
	phases map[string]bool
	every  uint64
	cmdCh  chan *dispatch.Command
}

func (c *client) wants(cmd *dispatch.Command) bool {
	if len(c.phases) > 0 && !c.phases[cmd.Phase] {
		return false
	}
	return c.every <= 1 || cmd.Tick%c.every == 0
}

// NewPublisher creates a Publisher with the service registered on its
// gRPC server.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	p := &Publisher{
		config:  cfg,
		log:     cfg.Logger.With().Str("component", "publish").Logger(),
		server:  grpc.NewServer(),
		cmdChan: make(chan *dispatch.Command, 100),
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
	RegisterCommandStreamServer(p.server, p)
	return p
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background. Stop closes it.
func (p *Publisher) Serve(lis net.Listener) error {
	if p.running.Swap(true) {
		return fmt.Errorf("publisher already running")
	}

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.log.Info().Stringer("addr", lis.Addr()).Msg("command stream listening")
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			p.log.Error().Err(err).Msg("gRPC server error")
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server. Open streams end when their
// clients are released.
func (p *Publisher) Stop() {
	if !p.running.Swap(false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.wg.Wait()
	p.log.Info().Msg("command stream stopped")
}

// Publish queues cmd for every connected client. It never blocks.
func (p *Publisher) Publish(cmd *dispatch.Command) {
	if !p.running.Load() {
		return
	}
	select {
	case p.cmdChan <- cmd.Clone():
		p.published.Add(1)
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case cmd := <-p.cmdChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if !c.wants(cmd) {
					continue
				}
				select {
				case c.cmdCh <- cmd:
				default:
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(req *structpb.Struct) (*client, error) {
	c := &client{
		id:    uuid.NewString(),
		every: 1,
		cmdCh: make(chan *dispatch.Command, p.config.ClientBuffer),
	}
	fields := req.GetFields()
	if v, ok := fields["phases"]; ok {
		c.phases = make(map[string]bool)
		for _, item := range v.GetListValue().GetValues() {
			phase, err := control.ParsePhase(item.GetStringValue())
			if err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			c.phases[phase.String()] = true
		}
	}
	if v, ok := fields["every"]; ok {
		n := v.GetNumberValue()
		if n < 1 || n != float64(uint64(n)) {
			return nil, status.Errorf(codes.InvalidArgument, "every must be a positive integer, got %v", n)
		}
		c.every = uint64(n)
	}

	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "client limit %d reached", p.config.MaxClients)
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	p.log.Info().Str("client", c.id).Int32("clients", n).Msg("client connected")
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		p.log.Info().Str("client", id).Int32("clients", n).Msg("client disconnected")
	}
}

// StreamCommands implements CommandStreamServer.
func (p *Publisher) StreamCommands(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	c, err := p.addClient(req)
	if err != nil {
		return err
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case cmd := <-c.cmdCh:
			if err := stream.Send(CommandToStruct(cmd)); err != nil {
				return err
			}
		}
	}
}

// Status implements CommandStreamServer.
func (p *Publisher) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	st := p.Stats()
	return structpb.NewStruct(map[string]any{
		"published": float64(st.Published),
		"dropped":   float64(st.Dropped),
		"clients":   float64(st.Clients),
		"running":   st.Running,
	})
}

// Stats contains publisher statistics.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Clients   int32  `json:"clients"`
	Running   bool   `json:"running"`
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Clients:   p.clientCount.Load(),
		Running:   p.running.Load(),
	}
}

// WaitForClients blocks until at least n clients are connected or ctx is
// done.
func (p *Publisher) WaitForClients(ctx context.Context, n int32) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for p.clientCount.Load() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
