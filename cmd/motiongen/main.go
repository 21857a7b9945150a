// Command motiongen runs the motion-generation node: it ingests robot
// sensor messages, runs the fixed-rate control loop and streams one desired
// motion command per tick to connected controllers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/banshee-data/motiongen/internal/config"
	"github.com/banshee-data/motiongen/internal/control"
	"github.com/banshee-data/motiongen/internal/db"
	"github.com/banshee-data/motiongen/internal/dispatch"
	"github.com/banshee-data/motiongen/internal/fsutil"
	"github.com/banshee-data/motiongen/internal/monitor"
	"github.com/banshee-data/motiongen/internal/monitoring"
	"github.com/banshee-data/motiongen/internal/planner"
	"github.com/banshee-data/motiongen/internal/publish"
	"github.com/banshee-data/motiongen/internal/sensors"
	"github.com/banshee-data/motiongen/internal/serialmux"
	"github.com/banshee-data/motiongen/internal/state"
	"github.com/banshee-data/motiongen/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON or TOML node config (defaults apply when empty)")
	source      = flag.String("source", "serial", "Sensor source: serial, udp, pcap, dev or disabled")
	showVersion = flag.Bool("version", false, "Print version and exit")
	logConsole  = flag.Bool("log-console", false, "Human-readable console logs instead of JSON")

	serialPort = flag.String("port", "/dev/ttyUSB0", "Serial port of the sensor bridge")
	baudRate   = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")

	udpListen = flag.String("udp-listen", ":9870", "UDP address for sensor messages")
	udpRcvBuf = flag.Int("udp-rcvbuf", 4<<20, "UDP receive buffer in bytes (0 keeps the OS default)")
	capture   = flag.String("capture", "", "Record received UDP sensor traffic to this .pcap file")

	pcapFile     = flag.String("pcap", "", "Replay sensor traffic from this .pcap/.pcapng file")
	pcapRealtime = flag.Bool("pcap-realtime", true, "Pace pcap replay by capture timestamps")
	pcapPort     = flag.Int("pcap-port", 9870, "UDP destination port to replay from the capture (0 for all)")
	pcapDir      = flag.String("pcap-dir", "", "Extra directory pcap files may be read from")

	devInterval = flag.Duration("dev-interval", 5*time.Millisecond, "Line interval of the dev source")

	grpcListen  = flag.String("grpc-listen", "localhost:50061", "Command stream gRPC address (empty disables)")
	waitClients = flag.Int("wait-clients", 0, "Wait for this many command stream clients before the loop starts")
	listen      = flag.String("listen", "localhost:8081", "Debug HTTP listen address (empty disables)")
	dbFile      = flag.String("db", "motiongen.db", "Run log database (empty disables recording)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("motiongen", version.String())
		return
	}

	cfg, err := loadConfig(fsutil.OSFileSystem{}, *configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, closer, err := monitoring.NewLogger(monitoring.Options{
		App:     "motiongen",
		Level:   cfg.GetLogLevel(),
		File:    cfg.GetLogFile(),
		Console: *logConsole,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closer.Close()
	logger.Info().Fields(version.Fields()).Str("source", *source).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("motiongen exited")
		closer.Close()
		os.Exit(1)
	}
	logger.Info().Msg("graceful shutdown complete")
}

func loadConfig(fsys fsutil.FileSystem, path string) (*config.NodeConfig, error) {
	if path == "" {
		return &config.NodeConfig{}, nil
	}
	return config.Load(fsys, path)
}

func sourceOptionsFromFlags(cfg *config.NodeConfig, logger zerolog.Logger) (sourceOptions, error) {
	serial, err := serialmux.PortOptions{BaudRate: *baudRate}.Normalise()
	if err != nil {
		return sourceOptions{}, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return sourceOptions{}, err
	}
	dirs := []string{cwd, os.TempDir()}
	if *pcapDir != "" {
		dirs = append(dirs, *pcapDir)
	}
	return sourceOptions{
		Kind:         *source,
		SerialPort:   *serialPort,
		Serial:       serial,
		UDPAddress:   *udpListen,
		UDPRcvBuf:    *udpRcvBuf,
		Capture:      *capture,
		PCAP:         *pcapFile,
		PCAPRealtime: *pcapRealtime,
		PCAPPort:     *pcapPort,
		PCAPDirs:     dirs,
		DevInterval:  *devInterval,
		DevHeight:    cfg.GetInitStartHeight(),
		Logger:       logger,
	}, nil
}

func controlConfig(cfg *config.NodeConfig, logger zerolog.Logger) control.Config {
	return control.Config{
		Period:              cfg.GetControlPeriod(),
		ZeroTime:            cfg.GetZeroTime(),
		InitDuration:        cfg.GetInitDuration(),
		InitStartHeight:     cfg.GetInitStartHeight(),
		SteadyHeight:        cfg.GetSteadyHeight(),
		Interpolation:       cfg.GetInterpolation(),
		FilterOrder:         cfg.GetFilterOrder(),
		FilterBeta:          cfg.GetFilterBeta(),
		GravityCompensation: cfg.GetGravityCompensation(),
		StartupTimeout:      cfg.GetStartupTimeout(),
		BarrierPoll:         cfg.GetBarrierPoll(),
		Logger:              logger,
	}
}

func run(ctx context.Context, cfg *config.NodeConfig, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts, err := sourceOptionsFromFlags(cfg, logger)
	if err != nil {
		return err
	}
	src, err := openSource(opts)
	if err != nil {
		return err
	}
	defer src.close()

	buf := state.NewBuffer(nil)
	cmds := state.NewCommands(state.VelocityCommand{
		Forward: cfg.GetVelocityForward(),
		Lateral: cfg.GetVelocityLateral(),
		YawRate: cfg.GetYawRate(),
	})
	worker := sensors.NewWorker(sensors.Config{
		BaseLink: sensors.LinkSelector{Index: cfg.GetBaseLinkIndex(), Name: cfg.GetBaseLinkName()},
		Logger:   logger,
	}, src.src, buf, cmds)

	plan, err := planner.NewKinematic(cfg.GetControlPeriod(), cfg.GetSteadyHeight())
	if err != nil {
		return err
	}

	history := monitor.NewHistory(0)
	dispatcher := dispatch.New(history)
	stats := map[string]func() any{
		"source":  src.stats,
		"sensors": func() any { return worker.Stats() },
		"dispatch": func() any {
			return map[string]uint64{"dispatched": dispatcher.Dispatched(), "rejected": dispatcher.Rejected()}
		},
		"state": func() any { return map[string]uint64{"rejected": buf.Rejected(), "command_updates": cmds.Updates()} },
	}

	var pub *publish.Publisher
	if *grpcListen != "" {
		pub = publish.NewPublisher(publish.Config{ListenAddr: *grpcListen, Logger: logger})
		if err := pub.Start(); err != nil {
			return err
		}
		defer pub.Stop()
		dispatcher.AddSink(pub)
		stats["publish"] = func() any { return pub.Stats() }
	}

	var (
		runLog   *db.DB
		runRow   *db.Run
		recorder *db.Recorder
	)
	if *dbFile != "" {
		runLog, err = db.NewDB(*dbFile)
		if err != nil {
			return fmt.Errorf("failed to open run log: %w", err)
		}
		defer runLog.Close()

		cfgJSON, _ := json.Marshal(cfg)
		runRow = db.NewRun(time.Now(), string(cfgJSON), version.String())
		if err := runLog.CreateRun(ctx, runRow); err != nil {
			return err
		}
		recorder = db.NewRecorder(runLog, runRow.ID, db.RecorderConfig{Every: cfg.GetRecordEvery(), Logger: logger})
		dispatcher.AddSink(recorder)
		stats["recorder"] = func() any { return recorder.Stats() }
		logger.Info().Str("run", runRow.ID).Str("db", runLog.Path()).Msg("recording run")
	}

	sched, err := control.New(controlConfig(cfg, logger), control.Deps{
		Buffer:     buf,
		Commands:   cmds,
		Ingestor:   worker,
		Planner:    plan,
		Dispatcher: dispatcher,
	})
	if err != nil {
		return err
	}
	stats["control"] = func() any { return sched.Stats() }

	mon := monitor.New(monitor.Config{History: history, State: buf.Snapshot, Stats: stats})

	var wg sync.WaitGroup

	if *listen != "" {
		mux := http.NewServeMux()
		if src.routes != nil {
			src.routes(mux)
		}
		if runLog != nil {
			runLog.AttachAdminRoutes(mux)
		}
		mon.AttachAdminRoutes(mux)

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(ctx, *listen, mux, logger)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if src.finite {
			if err := waitForSubscriber(ctx, src.subscribers); err != nil {
				return
			}
		}
		err := src.run(ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			logger.Error().Err(err).Str("source", src.kind).Msg("sensor source failed")
		case src.finite && ctx.Err() == nil:
			logger.Info().Str("source", src.kind).Msg("sensor source finished, stopping")
			cancel()
		}
	}()

	if pub != nil && *waitClients > 0 {
		logger.Info().Int("clients", *waitClients).Msg("waiting for command stream clients")
		if err := pub.WaitForClients(ctx, int32(*waitClients)); err != nil {
			cancel()
			wg.Wait()
			return nil
		}
	}

	runErr := sched.Run(ctx)
	cancel()
	wg.Wait()

	if recorder != nil {
		recorder.Close()
		finishRun(runLog, runRow, sched.Stats(), runErr, logger)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func finishRun(runLog *db.DB, run *db.Run, st control.Stats, runErr error, logger zerolog.Logger) {
	reason := "stopped"
	if runErr != nil {
		reason = runErr.Error()
	}
	var initial *[3]float64
	if st.Started {
		initial = &st.InitialPosition
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runLog.FinishRun(ctx, run.ID, time.Now(), st.Ticks, initial, reason); err != nil {
		logger.Error().Err(err).Str("run", run.ID).Msg("failed to finish run")
	}
}

func waitForSubscriber(ctx context.Context, subscribers func() int) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for subscribers() == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func serveDebug(ctx context.Context, addr string, mux *http.ServeMux, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		logger.Info().Str("addr", addr).Msg("debug HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("debug HTTP server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("debug HTTP server shutdown error")
		// Force close the server if graceful shutdown fails
		if err := server.Close(); err != nil {
			logger.Warn().Err(err).Msg("debug HTTP server force close error")
		}
	}
}
