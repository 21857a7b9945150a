package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motiongen/internal/config"
	"github.com/banshee-data/motiongen/internal/fsutil"
	"github.com/banshee-data/motiongen/internal/sensors"
	"github.com/banshee-data/motiongen/internal/serialmux"
	"github.com/banshee-data/motiongen/internal/state"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "serial", *source)
	assert.Equal(t, serialmux.DefaultBaudRate, *baudRate)
	assert.Equal(t, "localhost:50061", *grpcListen)
	assert.Equal(t, "motiongen.db", *dbFile)
	assert.True(t, *pcapRealtime)
	assert.Zero(t, *waitClients)
}

func TestLoadConfig(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, mem.WriteFile("/etc/node.toml", []byte(`control_period = "20ms"`), 0o644))

	cfg, err := loadConfig(mem, "")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cfg.GetControlPeriod())

	cfg, err = loadConfig(mem, "/etc/node.toml")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, cfg.GetControlPeriod())

	_, err = loadConfig(mem, "/etc/missing.toml")
	assert.Error(t, err)
}

func TestControlConfig(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	cc := controlConfig(cfg, zerolog.Nop())
	assert.Equal(t, cfg.GetControlPeriod(), cc.Period)
	assert.Equal(t, cfg.GetInitDuration(), cc.InitDuration)
	assert.Equal(t, cfg.GetFilterOrder(), cc.FilterOrder)
	assert.Equal(t, cfg.GetFilterBeta(), cc.FilterBeta)
	assert.Equal(t, cfg.GetStartupTimeout(), cc.StartupTimeout)
	assert.Equal(t, cfg.GetInterpolation(), cc.Interpolation)
}

func TestDevFixtureSatisfiesBarrier(t *testing.T) {
	lines, err := devFixture(0.6)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	buf := state.NewBuffer(nil)
	w := sensors.NewWorker(sensors.Config{BaseLink: sensors.LinkSelector{Index: 1}, Logger: zerolog.Nop()}, nil, buf, nil)
	for _, line := range lines {
		require.NoError(t, w.Handle(line))
	}
	snap := buf.Snapshot()
	assert.True(t, snap.Ready())
	assert.InDelta(t, 0.6, snap.Position.Z, 1e-12)
	assert.InDelta(t, 9.81, snap.Acceleration.Z, 1e-12)
}

func TestOpenSource(t *testing.T) {
	base := sourceOptions{DevInterval: time.Millisecond, DevHeight: 0.6, Logger: zerolog.Nop()}

	t.Run("dev", func(t *testing.T) {
		opts := base
		opts.Kind = "dev"
		src, err := openSource(opts)
		require.NoError(t, err)
		defer src.close()
		assert.NotNil(t, src.routes)
		assert.False(t, src.finite)

		id, ch := src.src.Subscribe()
		defer src.src.Unsubscribe(id)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- src.run(ctx) }()

		select {
		case line := <-ch:
			assert.Contains(t, []string{sensors.KindLinkStates, sensors.KindIMU}, serialmux.PayloadKind(line))
		case <-time.After(2 * time.Second):
			t.Fatal("no line from dev source")
		}
		cancel()
		<-done
	})

	t.Run("disabled", func(t *testing.T) {
		opts := base
		opts.Kind = "disabled"
		src, err := openSource(opts)
		require.NoError(t, err)
		assert.NoError(t, src.close())
	})

	t.Run("udp", func(t *testing.T) {
		opts := base
		opts.Kind = "udp"
		opts.UDPAddress = "127.0.0.1:0"
		src, err := openSource(opts)
		require.NoError(t, err)
		assert.Nil(t, src.routes)
		assert.NoError(t, src.close())
	})

	t.Run("bad capture extension", func(t *testing.T) {
		opts := base
		opts.Kind = "udp"
		opts.Capture = t.TempDir() + "/traffic.txt"
		_, err := openSource(opts)
		assert.Error(t, err)
	})

	t.Run("pcap without file", func(t *testing.T) {
		opts := base
		opts.Kind = "pcap"
		_, err := openSource(opts)
		assert.Error(t, err)
	})

	t.Run("pcap outside allowed dirs", func(t *testing.T) {
		opts := base
		opts.Kind = "pcap"
		opts.PCAP = "/etc/sensors.pcap"
		opts.PCAPDirs = []string{t.TempDir()}
		_, err := openSource(opts)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		opts := base
		opts.Kind = "carrier-pigeon"
		_, err := openSource(opts)
		assert.ErrorContains(t, err, "unknown sensor source")
	})
}

func TestWaitForSubscriber(t *testing.T) {
	n := 0
	err := waitForSubscriber(context.Background(), func() int { n++; return n / 3 })
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitForSubscriber(ctx, func() int { return 0 }), context.Canceled)
}
