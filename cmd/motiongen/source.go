package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/banshee-data/motiongen/internal/network"
	"github.com/banshee-data/motiongen/internal/sensors"
	"github.com/banshee-data/motiongen/internal/serialmux"
)

// sourceOptions select and configure the inbound sensor transport.
type sourceOptions struct {
	Kind string // serial, udp, pcap, dev or disabled

	SerialPort string
	Serial     serialmux.PortOptions

	UDPAddress string
	UDPRcvBuf  int
	Capture    string

	PCAP         string
	PCAPRealtime bool
	PCAPPort     int
	PCAPDirs     []string

	DevInterval time.Duration
	DevHeight   float64

	Logger zerolog.Logger
}

// sensorSource is an opened transport. run blocks until ctx is done or the
// transport ends; finite sources end on their own.
type sensorSource struct {
	kind   string
	src    sensors.Source
	run    func(ctx context.Context) error
	close  func() error
	stats  func() any
	routes func(*http.ServeMux)
	// subscribers reports how many readers are attached. Finite sources
	// wait for the first one before they start.
	subscribers func() int
	finite      bool
}

func openSource(opts sourceOptions) (*sensorSource, error) {
	switch opts.Kind {
	case "serial":
		mux, err := serialmux.NewRealSerialMux(opts.SerialPort, opts.Serial)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}
		return muxSource(opts.Kind, mux), nil

	case "dev":
		lines, err := devFixture(opts.DevHeight)
		if err != nil {
			return nil, err
		}
		return muxSource(opts.Kind, serialmux.NewReplaySerialMux(lines, opts.DevInterval)), nil

	case "disabled":
		return muxSource(opts.Kind, serialmux.NewDisabledSerialMux()), nil

	case "udp":
		cfg := network.ListenerConfig{
			Address: opts.UDPAddress,
			RcvBuf:  opts.UDPRcvBuf,
			Logger:  opts.Logger,
		}
		var captureFile *os.File
		if opts.Capture != "" {
			f, err := createCapture(opts.Capture)
			if err != nil {
				return nil, err
			}
			capture, err := network.NewCapture(f)
			if err != nil {
				f.Close()
				return nil, err
			}
			captureFile, cfg.Capture = f, capture
		}
		l := network.NewListener(cfg)
		return &sensorSource{
			kind: opts.Kind,
			src:  l,
			run:  l.Run,
			close: func() error {
				if captureFile != nil {
					return captureFile.Close()
				}
				return nil
			},
			stats: func() any { return l.Stats() },
		}, nil

	case "pcap":
		if opts.PCAP == "" {
			return nil, fmt.Errorf("-pcap is required with -source pcap")
		}
		r, err := network.NewFileReplayer(opts.PCAP, opts.PCAPDirs, network.ReplayConfig{
			Port:     opts.PCAPPort,
			Realtime: opts.PCAPRealtime,
			Logger:   opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		return &sensorSource{
			kind:        opts.Kind,
			src:         r,
			run:         r.Run,
			close:       func() error { return nil },
			stats:       func() any { return r.Stats() },
			subscribers: func() int { return r.Hub.Stats().Subscribers },
			finite:      true,
		}, nil
	}
	return nil, fmt.Errorf("unknown sensor source %q (want serial, udp, pcap, dev or disabled)", opts.Kind)
}

func muxSource(kind string, mux serialmux.SerialMuxInterface) *sensorSource {
	return &sensorSource{
		kind:   kind,
		src:    mux,
		run:    mux.Monitor,
		close:  mux.Close,
		stats:  func() any { return mux.Stats() },
		routes: mux.AttachAdminRoutes,
	}
}

func createCapture(path string) (*os.File, error) {
	if filepath.Ext(path) != ".pcap" {
		return nil, fmt.Errorf("capture %s: extension must be .pcap", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture: %w", err)
	}
	return f, nil
}
