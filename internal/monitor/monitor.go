// Package monitor serves the node's debug views: the current robot state,
// component counters and the recent commanded base trajectory.
package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/motiongen/internal/httputil"
	"github.com/banshee-data/motiongen/internal/state"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Config wires the monitor to the running node. Every field is optional.
type Config struct {
	History *History
	// State returns the latest robot state.
	State func() state.RobotState
	// Stats are named component counters reported by the state route.
	Stats map[string]func() any
}

type Monitor struct {
	cfg Config
}

func New(cfg Config) *Monitor {
	if cfg.History == nil {
		cfg.History = NewHistory(0)
	}
	return &Monitor{cfg: cfg}
}

// History is the sink to attach to the dispatcher.
func (m *Monitor) History() *History { return m.cfg.History }

// StateView is the JSON form of a state.RobotState.
type StateView struct {
	Ready           bool       `json:"ready"`
	Missing         []string   `json:"missing,omitempty"`
	Position        [3]float64 `json:"position"`
	Orientation     [4]float64 `json:"orientation"`
	LinearVelocity  [3]float64 `json:"linear_velocity"`
	AngularVelocity [3]float64 `json:"angular_velocity"`
	Acceleration    [3]float64 `json:"acceleration"`
	PoseUpdates     uint64     `json:"pose_updates"`
	AccelUpdates    uint64     `json:"accel_updates"`
	PoseAge         string     `json:"pose_age,omitempty"`
	AccelAge        string     `json:"accel_age,omitempty"`
}

// NewStateView converts s, reporting sample ages relative to now.
func NewStateView(s state.RobotState, now time.Time) StateView {
	v := StateView{
		Ready:           s.Ready(),
		Missing:         s.Missing(),
		Position:        s.Position.Array(),
		Orientation:     s.Orientation.Array(),
		LinearVelocity:  s.LinearVelocity.Array(),
		AngularVelocity: s.AngularVelocity.Array(),
		Acceleration:    s.Acceleration.Array(),
		PoseUpdates:     s.PoseUpdates,
		AccelUpdates:    s.AccelUpdates,
	}
	if s.HasPose {
		v.PoseAge = now.Sub(s.PoseTime).String()
	}
	if s.HasAccel {
		v.AccelAge = now.Sub(s.AccelTime).String()
	}
	return v
}

type statusResponse struct {
	State   *StateView     `json:"state,omitempty"`
	Latest  *Sample        `json:"latest_command,omitempty"`
	Total   uint64         `json:"commands"`
	Metrics map[string]any `json:"stats,omitempty"`
}

func (m *Monitor) status(now time.Time) statusResponse {
	resp := statusResponse{Total: m.cfg.History.Total()}
	if m.cfg.State != nil {
		v := NewStateView(m.cfg.State(), now)
		resp.State = &v
	}
	if s, ok := m.cfg.History.Latest(); ok {
		resp.Latest = &s
	}
	if len(m.cfg.Stats) > 0 {
		resp.Metrics = make(map[string]any, len(m.cfg.Stats))
		for name, fn := range m.cfg.Stats {
			resp.Metrics[name] = fn()
		}
	}
	return resp
}

// AttachAdminRoutes registers the monitor pages under /debug/.
func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("state", "Robot state and component counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, m.status(time.Now()))
	})

	debug.HandleFunc("trajectory", "Recent commanded base trajectory", func(w http.ResponseWriter, r *http.Request) {
		samples, err := m.samples(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		var buf bytes.Buffer
		if err := trajectoryChart(samples, r.URL.Query().Get("phase")).Render(&buf); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})

	debug.HandleSilentFunc("trajectory.json", func(w http.ResponseWriter, r *http.Request) {
		samples, err := m.samples(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, samples)
	})

	debug.HandleSilentFunc("trajectory.png", func(w http.ResponseWriter, r *http.Request) {
		samples, err := m.samples(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		p, err := TrajectoryPlot("Commanded base position", samples)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		var buf bytes.Buffer
		if err := WritePNG(&buf, p); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	})
}

// samples applies the ?phase= and ?limit= query parameters.
func (m *Monitor) samples(r *http.Request) ([]Sample, error) {
	q := r.URL.Query()
	samples := m.cfg.History.Samples(q.Get("phase"))
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid limit %q", l)
		}
		if n < len(samples) {
			samples = samples[len(samples)-n:]
		}
	}
	return samples, nil
}

func trajectoryChart(samples []Sample, phase string) *charts.Line {
	x := make([]string, len(samples))
	series := [3][]opts.LineData{}
	for axis := range series {
		series[axis] = make([]opts.LineData, len(samples))
	}
	phases := map[string]int{}
	for i, s := range samples {
		x[i] = strconv.FormatFloat(s.Elapsed, 'f', 3, 64)
		for axis := range series {
			series[axis][i] = opts.LineData{Value: s.BasePos[axis]}
		}
		phases[s.Phase]++
	}

	subtitle := fmt.Sprintf("samples=%d", len(samples))
	if phase != "" {
		subtitle += " phase=" + phase
	}
	names := make([]string, 0, len(phases))
	for p := range phases {
		names = append(names, p)
	}
	sort.Strings(names)
	for _, p := range names {
		subtitle += fmt.Sprintf(" %s=%d", p, phases[p])
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "motiongen trajectory", Width: "100%", Height: "640px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Commanded base position", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Elapsed (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Position (m)", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x)
	for axis, name := range axisNames {
		line.AddSeries(name, series[axis], charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}
