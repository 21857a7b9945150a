// Package control runs the fixed-rate control loop: it waits for the first
// complete sensor state, then on every tick estimates the base acceleration,
// selects the control phase and dispatches one desired motion command.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/banshee-data/motiongen/internal/dispatch"
	"github.com/banshee-data/motiongen/internal/estimator"
	"github.com/banshee-data/motiongen/internal/geom"
	"github.com/banshee-data/motiongen/internal/planner"
	"github.com/banshee-data/motiongen/internal/spline"
	"github.com/banshee-data/motiongen/internal/startup"
	"github.com/banshee-data/motiongen/internal/state"
	"github.com/banshee-data/motiongen/internal/timeutil"
)

var (
	// ErrStartupTimeout is returned when a sensor stream never delivers its
	// first sample within the configured startup timeout.
	ErrStartupTimeout = errors.New("startup timeout")
	// ErrPlanner wraps a planner failure. It ends the run.
	ErrPlanner = errors.New("planner failed")
)

// Config holds the loop constants. Zero durations fall back to the
// defaults noted on each field where one exists.
type Config struct {
	// Period is the tick period. Zero means the planner's own period.
	Period time.Duration
	// ZeroTime is the HOLD window before INIT.
	ZeroTime time.Duration
	// InitDuration is the INIT window.
	InitDuration time.Duration

	InitStartHeight float64
	SteadyHeight    float64
	Interpolation   string

	FilterOrder         int
	FilterBeta          float64
	GravityCompensation bool

	// StartupTimeout bounds the sensor barrier. Zero waits forever.
	StartupTimeout time.Duration
	// BarrierPoll is how often the barrier re-checks the buffer.
	BarrierPoll time.Duration

	Logger zerolog.Logger
}

// Ingestor is the sensor worker the scheduler starts and joins.
type Ingestor interface {
	Run(ctx context.Context) error
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Buffer     *state.Buffer
	Commands   *state.Commands
	Ingestor   Ingestor // optional
	Planner    planner.Planner
	Dispatcher *dispatch.Dispatcher
	Clock      timeutil.Clock // nil means the real clock
}

// Stats describe the loop as last observed.
type Stats struct {
	Ticks           uint64        `json:"ticks"`
	Phase           string        `json:"phase"`
	Elapsed         time.Duration `json:"elapsed"`
	Overruns        uint64        `json:"overruns"`
	LastTickLatency time.Duration `json:"last_tick_latency"`
	MaxTickLatency  time.Duration `json:"max_tick_latency"`
	DispatchErrors  uint64        `json:"dispatch_errors"`
	Started         bool          `json:"started"`
	InitialPosition [3]float64    `json:"initial_position"`

	Estimator estimator.Stats `json:"estimator"`
}

// Scheduler owns the control loop. A Scheduler runs once.
type Scheduler struct {
	cfg    Config
	deps   Deps
	period time.Duration
	interp spline.Interpolator
	est    *estimator.Estimator
	log    zerolog.Logger
	warnLg zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// New validates cfg and wires the scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Buffer == nil || deps.Planner == nil || deps.Dispatcher == nil {
		return nil, errors.New("control: buffer, planner and dispatcher are required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Commands == nil {
		deps.Commands = state.NewCommands(state.VelocityCommand{})
	}

	period := cfg.Period
	if period == 0 {
		period = deps.Planner.Period()
	}
	if period <= 0 {
		return nil, fmt.Errorf("control period must be positive, got %v", period)
	}
	if cfg.ZeroTime < 0 {
		return nil, fmt.Errorf("zero time must not be negative, got %v", cfg.ZeroTime)
	}
	if cfg.InitDuration <= 0 {
		return nil, fmt.Errorf("init duration must be positive, got %v", cfg.InitDuration)
	}
	if cfg.StartupTimeout < 0 {
		return nil, fmt.Errorf("startup timeout must not be negative, got %v", cfg.StartupTimeout)
	}
	if cfg.BarrierPoll <= 0 {
		return nil, fmt.Errorf("barrier poll must be positive, got %v", cfg.BarrierPoll)
	}
	for name, h := range map[string]float64{"init start height": cfg.InitStartHeight, "steady height": cfg.SteadyHeight} {
		if math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %v", name, h)
		}
	}

	interp, err := spline.New(cfg.Interpolation, cfg.InitDuration)
	if err != nil {
		return nil, err
	}
	est, err := estimator.New(estimator.Config{
		FilterOrder:         cfg.FilterOrder,
		FilterBeta:          cfg.FilterBeta,
		Period:              period,
		GravityCompensation: cfg.GravityCompensation,
	})
	if err != nil {
		return nil, err
	}

	log := cfg.Logger.With().Str("component", "control").Logger()
	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		period: period,
		interp: interp,
		est:    est,
		log:    log,
		warnLg: log.Sample(&zerolog.BurstSampler{Burst: 3, Period: 5 * time.Second}),
	}
	s.stats.Phase = PhaseAt(period, cfg.ZeroTime, cfg.InitDuration).String()
	return s, nil
}

// Period returns the tick period in use.
func (s *Scheduler) Period() time.Duration { return s.period }

// Stats returns a copy of the loop statistics. It is safe to call while Run
// is executing.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run starts the ingestor, waits for both sensor streams, then ticks until
// ctx is cancelled. It returns nil on cancellation after the barrier,
// ctx.Err() on cancellation during it, ErrStartupTimeout when the barrier
// times out and ErrPlanner when the planner fails. The ingestor is always
// cancelled and joined before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if s.deps.Ingestor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.deps.Ingestor.Run(ctx); err != nil {
				s.log.Error().Err(err).Msg("sensor ingestion ended")
			}
		}()
	}

	snap, err := s.awaitSensors(ctx)
	if err != nil {
		return err
	}
	return s.loop(ctx, snap.Position)
}

func (s *Scheduler) awaitSensors(ctx context.Context) (state.RobotState, error) {
	clock := s.deps.Clock
	start := clock.Now()
	logged := false
	for {
		snap := s.deps.Buffer.Snapshot()
		if snap.Ready() {
			s.log.Info().
				Dur("waited", clock.Since(start)).
				Floats64("position", floats(snap.Position)).
				Msg("sensor streams ready")
			return snap, nil
		}
		if !logged {
			s.log.Info().Strs("missing", snap.Missing()).Msg("waiting for sensor streams")
			logged = true
		}
		if timeout := s.cfg.StartupTimeout; timeout > 0 && clock.Since(start) >= timeout {
			return snap, fmt.Errorf("%w after %v: no %s received", ErrStartupTimeout, timeout, strings.Join(snap.Missing(), " or "))
		}
		if err := timeutil.Sleep(ctx, clock, s.cfg.BarrierPoll); err != nil {
			return snap, err
		}
	}
}

func (s *Scheduler) loop(ctx context.Context, initial geom.Vec3) error {
	clock := s.deps.Clock
	rate := timeutil.NewRate(clock, s.period)

	s.mu.Lock()
	s.stats.Started = true
	s.mu.Unlock()
	s.setInitial(initial)

	var (
		phase    = PhaseAt(s.period, s.cfg.ZeroTime, s.cfg.InitDuration)
		settle   *startup.Controller
		anchored bool
		elapsed  time.Duration
	)
	s.log.Info().Dur("period", s.period).Str("phase", phase.String()).Msg("control loop started")

	for tick := uint64(1); ; tick++ {
		if ctx.Err() != nil {
			s.log.Info().Uint64("ticks", tick-1).Msg("control loop stopped")
			return nil
		}
		begin := clock.Now()
		elapsed = time.Duration(tick) * s.period

		snap := s.deps.Buffer.Snapshot()
		acc := s.est.Estimate(snap.Acceleration, snap.Orientation)

		next := PhaseAt(elapsed, s.cfg.ZeroTime, s.cfg.InitDuration)
		if next < phase {
			next = phase
		}
		if next != phase {
			s.log.Info().
				Str("from", phase.String()).
				Str("to", next.String()).
				Uint64("tick", tick).
				Dur("elapsed", elapsed).
				Msg("phase transition")
			phase = next
		}

		var (
			out     planner.Output
			publish = true
		)
		switch phase {
		case PhaseHold:
			initial = snap.Position
			s.setInitial(initial)
			publish = false
		case PhaseInit:
			if settle == nil {
				settle = s.newStartup(initial)
			}
			out = settle.Output(InitProgress(elapsed, s.cfg.ZeroTime, s.cfg.InitDuration))
		case PhaseSteady:
			if !anchored {
				s.anchorPlanner(initial)
				anchored = true
			}
			var err error
			out, err = s.deps.Planner.Plan(planner.Input{
				Position:     snap.Position,
				Velocity:     snap.LinearVelocity,
				Acceleration: acc,
				Orientation:  snap.Orientation,
				Command:      s.deps.Commands.Get(),
			})
			if err != nil {
				s.log.Error().Err(err).Uint64("tick", tick).Msg("planner failed")
				return fmt.Errorf("%w at tick %d: %w", ErrPlanner, tick, err)
			}
		}

		var dispatchErr bool
		if publish {
			meta := dispatchMeta(tick, elapsed, phase)
			if _, err := s.deps.Dispatcher.Dispatch(meta, out); err != nil {
				dispatchErr = true
				s.warnLg.Warn().Err(err).Uint64("tick", tick).Msg("command not dispatched")
			}
		}

		latency := clock.Since(begin)
		s.record(tick, elapsed, phase, latency, dispatchErr, rate.Overruns())
		if latency > s.period {
			s.warnLg.Warn().Dur("latency", latency).Dur("period", s.period).Uint64("tick", tick).Msg("tick overran its period")
		}

		if err := rate.Sleep(ctx); err != nil {
			s.log.Info().Uint64("ticks", tick).Msg("control loop stopped")
			return nil
		}
	}
}

func (s *Scheduler) newStartup(initial geom.Vec3) *startup.Controller {
	c := startup.New(initial, s.cfg.InitStartHeight, s.cfg.SteadyHeight, s.interp)
	s.log.Info().
		Floats64("from", floats(c.Start())).
		Floats64("to", floats(c.End())).
		Dur("duration", s.cfg.InitDuration).
		Msg("startup trajectory")
	return c
}

// setInitial publishes the position the INIT trajectory starts from.
func (s *Scheduler) setInitial(p geom.Vec3) {
	s.mu.Lock()
	s.stats.InitialPosition = p.Array()
	s.mu.Unlock()
}

// anchorPlanner starts the planner where the INIT trajectory ended, so the
// commanded base does not jump when STEADY begins.
func (s *Scheduler) anchorPlanner(initial geom.Vec3) {
	a, ok := s.deps.Planner.(planner.Anchorer)
	if !ok {
		return
	}
	end := geom.V3(initial.X, initial.Y, s.cfg.SteadyHeight)
	a.Anchor(end)
	s.log.Debug().Floats64("at", floats(end)).Msg("planner anchored")
}

func (s *Scheduler) record(tick uint64, elapsed time.Duration, phase Phase, latency time.Duration, dispatchErr bool, overruns uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Ticks = tick
	s.stats.Elapsed = elapsed
	s.stats.Phase = phase.String()
	s.stats.LastTickLatency = latency
	if latency > s.stats.MaxTickLatency {
		s.stats.MaxTickLatency = latency
	}
	s.stats.Overruns = overruns
	if dispatchErr {
		s.stats.DispatchErrors++
	}
	s.stats.Estimator = s.est.Stats()
}

func dispatchMeta(tick uint64, elapsed time.Duration, phase Phase) dispatch.Meta {
	return dispatch.Meta{Tick: tick, Elapsed: elapsed, Phase: phase.String()}
}

func floats(v geom.Vec3) []float64 {
	a := v.Array()
	return a[:]
}
