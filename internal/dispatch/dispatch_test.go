package dispatch

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/motiongen/internal/geom"
	"github.com/banshee-data/motiongen/internal/planner"
)

type captureSink struct {
	got []*Command
}

func (c *captureSink) Publish(cmd *Command) { c.got = append(c.got, cmd) }

func initOutput() planner.Output {
	return planner.Output{
		ContactFeet: planner.AllFeet(),
		BasePos:     geom.V3(0, 0, 0.55),
		BaseVel:     geom.V3(0, 0, -0.375),
		BaseQuat:    geom.Identity(),
		FeetAcc:     []float64{},
		FeetVel:     []float64{},
		FeetPos:     []float64{},
	}
}

func TestDispatch_InitOutputReachesEverySink(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	d := New(a)
	d.AddSink(b)

	meta := Meta{Tick: 25, Elapsed: 250 * time.Millisecond, Phase: "INIT"}
	cmd, err := d.Dispatch(meta, initOutput())
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	want := &Command{
		Tick:        25,
		Elapsed:     0.25,
		Phase:       "INIT",
		ContactFeet: []string{"LF", "RF", "LH", "RH"},
		BasePos:     [3]float64{0, 0, 0.55},
		BaseVel:     [3]float64{0, 0, -0.375},
		BaseQuat:    [4]float64{0, 0, 0, 1},
		FeetAcc:     []float64{},
		FeetVel:     []float64{},
		FeetPos:     []float64{},
	}
	if diff := cmp.Diff(want, cmd); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	if len(a.got) != 1 || len(b.got) != 1 || a.got[0] != cmd || b.got[0] != cmd {
		t.Errorf("sinks got %d and %d commands", len(a.got), len(b.got))
	}
	if d.Dispatched() != 1 || d.Rejected() != 0 {
		t.Errorf("dispatched=%d rejected=%d", d.Dispatched(), d.Rejected())
	}
	if cmd.SwingFeet() != 0 {
		t.Errorf("SwingFeet() = %d", cmd.SwingFeet())
	}
}

func TestDispatch_EmptySwingArraysEncodeAsEmptyLists(t *testing.T) {
	out := initOutput()
	out.FeetPos = nil
	out.FeetVel = nil
	out.FeetAcc = nil
	cmd, err := Build(Meta{}, out)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"feet_acc", "feet_vel", "feet_pos"} {
		if v, ok := m[k].([]any); !ok || len(v) != 0 {
			t.Errorf("%s = %v, want []", k, m[k])
		}
	}
}

func TestDispatch_SwingTargets(t *testing.T) {
	out := initOutput()
	out.ContactFeet = []string{planner.FootRF, planner.FootLH}
	out.FeetPos = []float64{0.3, 0.2, 0.05, -0.3, -0.2, 0.05}
	out.FeetVel = []float64{0.1, 0, 0.2, 0.1, 0, 0.2}
	out.FeetAcc = make([]float64, 6)

	cmd, err := Build(Meta{Phase: "STEADY"}, out)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.SwingFeet() != 2 {
		t.Errorf("SwingFeet() = %d, want 2", cmd.SwingFeet())
	}

	// the command owns its slices
	out.FeetPos[0] = 99
	if cmd.FeetPos[0] != 0.3 {
		t.Error("command aliases planner output")
	}
}

func TestDispatch_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*planner.Output)
	}{
		{"feet_pos not triples", func(o *planner.Output) { o.FeetPos = []float64{1, 2} }},
		{"feet_vel length mismatch", func(o *planner.Output) {
			o.FeetPos = []float64{1, 2, 3}
			o.FeetAcc = []float64{0, 0, 0}
		}},
		{"nan swing value", func(o *planner.Output) {
			o.FeetPos = []float64{1, math.NaN(), 3}
			o.FeetVel = []float64{0, 0, 0}
			o.FeetAcc = []float64{0, 0, 0}
		}},
		{"inf base velocity", func(o *planner.Output) { o.BaseVel = geom.V3(math.Inf(1), 0, 0) }},
		{"nan quaternion", func(o *planner.Output) { o.BaseQuat = geom.Quat{W: math.NaN()} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &captureSink{}
			d := New(sink)
			out := initOutput()
			tt.mutate(&out)

			cmd, err := d.Dispatch(Meta{}, out)
			if !errors.Is(err, ErrMalformedCommand) {
				t.Fatalf("Dispatch() error = %v, want ErrMalformedCommand", err)
			}
			if cmd != nil || len(sink.got) != 0 {
				t.Error("malformed command reached a sink")
			}
			if d.Rejected() != 1 {
				t.Errorf("Rejected() = %d", d.Rejected())
			}
		})
	}
}

func TestSinkFunc(t *testing.T) {
	var n int
	d := New(SinkFunc(func(*Command) { n++ }))
	for i := 0; i < 3; i++ {
		if _, err := d.Dispatch(Meta{Tick: uint64(i)}, initOutput()); err != nil {
			t.Fatal(err)
		}
	}
	if n != 3 {
		t.Errorf("sink called %d times, want 3", n)
	}
}

func TestCommandClone(t *testing.T) {
	orig := &Command{
		Tick:        7,
		ContactFeet: []string{"LF", "RH"},
		BaseQuat:    [4]float64{0, 0, 0, 1},
		FeetPos:     []float64{1, 2, 3},
		FeetVel:     []float64{0, 0, 0},
		FeetAcc:     []float64{0, 0, 0},
	}
	clone := orig.Clone()
	if diff := cmp.Diff(orig, clone); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}
	clone.ContactFeet[0] = "RF"
	clone.FeetPos[0] = 9
	if orig.ContactFeet[0] != "LF" || orig.FeetPos[0] != 1 {
		t.Error("clone shares slices with the original")
	}
}
