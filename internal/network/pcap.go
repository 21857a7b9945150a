package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"

	"github.com/banshee-data/motiongen/internal/fanout"
	"github.com/banshee-data/motiongen/internal/security"
	"github.com/banshee-data/motiongen/internal/timeutil"
)

const (
	captureSnapLen = 65536
	pcapngMagic    = 0x0A0D0D0A
)

var ErrNotCapture = errors.New("not a pcap or pcapng capture")

// Capture writes received datagrams to a pcap stream as Ethernet/IPv4/UDP
// frames so they can be replayed later or opened in Wireshark.
type Capture struct {
	mu sync.Mutex
	w  *pcapgo.Writer
}

// NewCapture writes the pcap file header to w.
func NewCapture(w io.Writer) (*Capture, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(captureSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Capture{w: pw}, nil
}

// WriteDatagram appends one UDP datagram. Missing or non-IPv4 addresses are
// written as loopback.
func (c *Capture) WriteDatagram(ts time.Time, src, dst *net.UDPAddr, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    ipv4(src),
		DstIP:    ipv4(dst),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(port(src)),
		DstPort: layers.UDPPort(port(dst)),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize datagram: %w", err)
	}
	data := buf.Bytes()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

func ipv4(a *net.UDPAddr) net.IP {
	if a != nil {
		if v4 := a.IP.To4(); v4 != nil && !v4.IsUnspecified() {
			return v4
		}
	}
	return net.IPv4(127, 0, 0, 1).To4()
}

func port(a *net.UDPAddr) int {
	if a == nil {
		return 0
	}
	return a.Port
}

// packetReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

func openPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	if binary.LittleEndian.Uint32(head) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	return pr, nil
}

// ReplayConfig configures a capture replay.
type ReplayConfig struct {
	// Port keeps only datagrams sent to this UDP port. Zero keeps all.
	Port int
	// Realtime paces delivery by the capture timestamps. Otherwise the
	// capture is delivered unpaced and slow subscribers lose lines.
	Realtime bool
	// Clock paces realtime replay. Nil means the real clock.
	Clock  timeutil.Clock
	Logger zerolog.Logger
}

// ReplayStats counts replay progress.
type ReplayStats struct {
	Packets  uint64       `json:"packets"`
	Skipped  uint64       `json:"skipped"`
	Messages uint64       `json:"messages"`
	Hub      fanout.Stats `json:"hub"`
}

// Replayer feeds sensor messages from a recorded capture to subscribers.
// Subscribers are closed when the capture ends.
type Replayer struct {
	*fanout.Hub
	cfg  ReplayConfig
	log  zerolog.Logger
	open func() (io.ReadCloser, error)

	packets  atomic.Uint64
	skipped  atomic.Uint64
	messages atomic.Uint64
}

// NewReplayer replays from r.
func NewReplayer(r io.Reader, cfg ReplayConfig) *Replayer {
	return newReplayer(func() (io.ReadCloser, error) { return io.NopCloser(r), nil }, cfg)
}

// NewFileReplayer replays the capture at path, which must be a .pcap or
// .pcapng file within one of allowedDirs.
func NewFileReplayer(path string, allowedDirs []string, cfg ReplayConfig) (*Replayer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng":
	default:
		return nil, fmt.Errorf("capture %s: extension must be .pcap or .pcapng", path)
	}
	if err := security.CheckWithin(path, allowedDirs...); err != nil {
		return nil, fmt.Errorf("capture %s: %w", path, err)
	}
	return newReplayer(func() (io.ReadCloser, error) { return os.Open(path) }, cfg), nil
}

func newReplayer(open func() (io.ReadCloser, error), cfg ReplayConfig) *Replayer {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Replayer{
		Hub:  fanout.New(fanout.DefaultBuffer),
		cfg:  cfg,
		log:  cfg.Logger.With().Str("component", "pcap").Logger(),
		open: open,
	}
}

// Run delivers the capture and returns nil at its end, or ctx.Err() if
// cancelled first.
func (p *Replayer) Run(ctx context.Context) error {
	defer p.Hub.Close()

	rc, err := p.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	reader, err := openPacketReader(rc)
	if err != nil {
		return err
	}
	p.log.Info().Stringer("link_type", reader.LinkType()).Int("port", p.cfg.Port).Msg("replay started")

	var first time.Time
	start := p.cfg.Clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			p.log.Info().Uint64("packets", p.packets.Load()).Uint64("messages", p.messages.Load()).Msg("replay complete")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
		p.packets.Add(1)

		payload, ok := p.udpPayload(data, reader.LinkType())
		if !ok {
			p.skipped.Add(1)
			continue
		}

		if p.cfg.Realtime {
			if first.IsZero() {
				first = ci.Timestamp
			}
			due := ci.Timestamp.Sub(first) - p.cfg.Clock.Since(start)
			if due > 0 {
				if err := timeutil.Sleep(ctx, p.cfg.Clock, due); err != nil {
					return err
				}
			}
		}
		n := splitLines(payload, p.Hub.Publish)
		p.messages.Add(uint64(n))
	}
}

func (p *Replayer) udpPayload(data []byte, link layers.LinkType) ([]byte, bool) {
	packet := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil, false
	}
	if p.cfg.Port != 0 && int(udp.DstPort) != p.cfg.Port {
		return nil, false
	}
	if len(udp.Payload) == 0 {
		return nil, false
	}
	return udp.Payload, true
}

func (p *Replayer) Stats() ReplayStats {
	return ReplayStats{
		Packets:  p.packets.Load(),
		Skipped:  p.skipped.Load(),
		Messages: p.messages.Load(),
		Hub:      p.Hub.Stats(),
	}
}
