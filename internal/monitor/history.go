package monitor

import (
	"sync"

	"github.com/banshee-data/motiongen/internal/dispatch"
)

// DefaultHistory is the number of samples kept when NewHistory is given a
// non-positive capacity: ten seconds at the default 10ms period.
const DefaultHistory = 1000

// Sample is the part of a dispatched command the monitor charts.
type Sample struct {
	Tick      uint64     `json:"tick"`
	Elapsed   float64    `json:"elapsed"`
	Phase     string     `json:"phase"`
	BasePos   [3]float64 `json:"base_pos"`
	BaseVel   [3]float64 `json:"base_vel"`
	BaseAcc   [3]float64 `json:"base_acc"`
	SwingFeet int        `json:"swing_feet"`
}

// History is a dispatch.Sink keeping the most recent samples in a ring.
type History struct {
	mu    sync.Mutex
	ring  []Sample
	next  int
	full  bool
	total uint64
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &History{ring: make([]Sample, capacity)}
}

func (h *History) Publish(cmd *dispatch.Command) {
	s := Sample{
		Tick:      cmd.Tick,
		Elapsed:   cmd.Elapsed,
		Phase:     cmd.Phase,
		BasePos:   cmd.BasePos,
		BaseVel:   cmd.BaseVel,
		BaseAcc:   cmd.BaseAcc,
		SwingFeet: cmd.SwingFeet(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = s
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.full = true
	}
	h.total++
}

// Samples returns the retained samples oldest first. A non-empty phase
// keeps only samples from that phase.
func (h *History) Samples(phase string) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	ordered := h.ring[:h.next]
	if h.full {
		ordered = append(append([]Sample{}, h.ring[h.next:]...), h.ring[:h.next]...)
	}
	out := make([]Sample, 0, len(ordered))
	for _, s := range ordered {
		if phase == "" || s.Phase == phase {
			out = append(out, s)
		}
	}
	return out
}

// Latest returns the most recent sample.
func (h *History) Latest() (Sample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total == 0 {
		return Sample{}, false
	}
	i := h.next - 1
	if i < 0 {
		i = len(h.ring) - 1
	}
	return h.ring[i], true
}

// Total counts every sample ever published, retained or not.
func (h *History) Total() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
