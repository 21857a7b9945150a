// Package sensors ingests pose/twist, inertial and velocity-command messages
// and writes them into the shared state buffer.
package sensors

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/banshee-data/motiongen/internal/state"
)

var errVelocityDisabled = errors.New("velocity commands not accepted")

// Source is a line-oriented message feed. serialmux.SerialMux and
// network.UDPListener both satisfy it.
type Source interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// Config controls how the worker interprets inbound messages.
type Config struct {
	BaseLink LinkSelector
	Logger   zerolog.Logger
}

// Stats are cumulative per-kind counters.
type Stats struct {
	PoseAccepted    uint64 `json:"pose_accepted"`
	PoseDropped     uint64 `json:"pose_dropped"`
	AccelAccepted   uint64 `json:"accel_accepted"`
	AccelDropped    uint64 `json:"accel_dropped"`
	CommandAccepted uint64 `json:"command_accepted"`
	CommandDropped  uint64 `json:"command_dropped"`
	Unknown         uint64 `json:"unknown"`
	Malformed       uint64 `json:"malformed"`
}

// Worker decodes lines from a Source and writes them to a state.Buffer. It
// never blocks on the control loop: the buffer write is the only hand-off.
type Worker struct {
	cfg    Config
	src    Source
	buf    *state.Buffer
	cmds   *state.Commands
	log    zerolog.Logger
	dropLg zerolog.Logger

	poseOK, poseDrop   atomic.Uint64
	accelOK, accelDrop atomic.Uint64
	cmdOK, cmdDrop     atomic.Uint64
	unknown, malformed atomic.Uint64
}

// NewWorker wires a worker. cmds may be nil, in which case velocity_command
// messages are counted and dropped.
func NewWorker(cfg Config, src Source, buf *state.Buffer, cmds *state.Commands) *Worker {
	log := cfg.Logger.With().Str("component", "sensors").Logger()
	return &Worker{
		cfg:  cfg,
		src:  src,
		buf:  buf,
		cmds: cmds,
		log:  log,
		// a misbehaving publisher can send hundreds of bad lines a second
		dropLg: log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Second}),
	}
}

// Run consumes the source until ctx is done or the source closes its
// channel. It returns nil in both cases.
func (w *Worker) Run(ctx context.Context) error {
	id, lines := w.src.Subscribe()
	defer w.src.Unsubscribe(id)

	w.log.Info().Str("subscription", id).Msg("sensor ingestion started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("sensor ingestion stopped")
			return nil
		case line, ok := <-lines:
			if !ok {
				w.log.Warn().Msg("sensor source closed")
				return nil
			}
			if err := w.Handle(line); err != nil {
				w.dropLg.Warn().Err(err).Str("line", truncate(line, 120)).Msg("dropped sensor message")
			}
		}
	}
}

// Handle processes a single line. A non-nil error means the line was
// dropped and the buffer is unchanged.
func (w *Worker) Handle(line string) error {
	msg, err := decodeKind(line)
	if err != nil {
		if errors.Is(err, ErrUnknownMessage) {
			w.unknown.Add(1)
		} else {
			w.malformed.Add(1)
		}
		return err
	}

	switch msg.Type {
	case KindLinkStates:
		pt, err := msg.poseTwist(w.cfg.BaseLink)
		if err == nil {
			err = w.buf.WritePoseTwist(pt)
		}
		return count(err, &w.poseOK, &w.poseDrop)

	case KindIMU:
		a, err := msg.accel()
		if err == nil {
			err = w.buf.WriteAccel(a)
		}
		return count(err, &w.accelOK, &w.accelDrop)

	default: // KindVelocityCommand
		if w.cmds == nil {
			w.cmdDrop.Add(1)
			return errVelocityDisabled
		}
		cmd, err := msg.velocityCommand(w.cmds.Get())
		if err == nil {
			err = w.cmds.Set(cmd)
		}
		if err == nil {
			w.log.Info().
				Float64("forward", cmd.Forward).
				Float64("lateral", cmd.Lateral).
				Float64("yaw_rate", cmd.YawRate).
				Msg("velocity command updated")
		}
		return count(err, &w.cmdOK, &w.cmdDrop)
	}
}

// Stats returns a copy of the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		PoseAccepted:    w.poseOK.Load(),
		PoseDropped:     w.poseDrop.Load(),
		AccelAccepted:   w.accelOK.Load(),
		AccelDropped:    w.accelDrop.Load(),
		CommandAccepted: w.cmdOK.Load(),
		CommandDropped:  w.cmdDrop.Load(),
		Unknown:         w.unknown.Load(),
		Malformed:       w.malformed.Load(),
	}
}

func count(err error, ok, dropped *atomic.Uint64) error {
	if err != nil {
		dropped.Add(1)
		return err
	}
	ok.Add(1)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to the start of a rune
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
