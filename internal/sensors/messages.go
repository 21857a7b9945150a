package sensors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/motiongen/internal/geom"
	"github.com/banshee-data/motiongen/internal/state"
)

// Message kinds carried in the "type" field of every inbound line.
const (
	KindLinkStates      = "link_states"
	KindIMU             = "imu"
	KindVelocityCommand = "velocity_command"
)

var (
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrMalformedMessage = errors.New("malformed message")
	ErrMissingField     = errors.New("missing field")
	ErrBaseLinkNotFound = errors.New("base link not found")
)

type vec3JSON struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

func (v *vec3JSON) value(field string) (geom.Vec3, error) {
	if v == nil || v.X == nil || v.Y == nil || v.Z == nil {
		return geom.Vec3{}, fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return geom.V3(*v.X, *v.Y, *v.Z), nil
}

type quatJSON struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
	W *float64 `json:"w"`
}

func (q *quatJSON) value(field string) (geom.Quat, error) {
	if q == nil || q.X == nil || q.Y == nil || q.Z == nil || q.W == nil {
		return geom.Quat{}, fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return geom.Quat{X: *q.X, Y: *q.Y, Z: *q.Z, W: *q.W}, nil
}

type poseJSON struct {
	Position    *vec3JSON `json:"position"`
	Orientation *quatJSON `json:"orientation"`
}

type twistJSON struct {
	Linear  *vec3JSON `json:"linear"`
	Angular *vec3JSON `json:"angular"`
}

type inbound struct {
	Type string `json:"type"`

	// link_states
	Name  []string    `json:"name"`
	Pose  []poseJSON  `json:"pose"`
	Twist []twistJSON `json:"twist"`

	// imu
	LinearAcceleration *vec3JSON `json:"linear_acceleration"`

	// velocity_command
	VelocityForward *float64 `json:"velocity_forward"`
	VelocityLateral *float64 `json:"velocity_lateral"`
	YawRate         *float64 `json:"yaw_rate"`
}

// LinkSelector picks the base link out of a link_states message.
type LinkSelector struct {
	Index int    // used when Name is empty
	Name  string // substring match against link names
}

func (s LinkSelector) index(names []string, links int) (int, error) {
	if s.Name != "" {
		for i, n := range names {
			if strings.Contains(n, s.Name) {
				if i >= links {
					break
				}
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: no link named like %q", ErrBaseLinkNotFound, s.Name)
	}
	if s.Index < 0 || s.Index >= links {
		return 0, fmt.Errorf("%w: index %d of %d links", ErrBaseLinkNotFound, s.Index, links)
	}
	return s.Index, nil
}

func decodeKind(line string) (*inbound, error) {
	var msg inbound
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch msg.Type {
	case KindLinkStates, KindIMU, KindVelocityCommand:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

func (m *inbound) poseTwist(sel LinkSelector) (state.PoseTwist, error) {
	idx, err := sel.index(m.Name, min(len(m.Pose), len(m.Twist)))
	if err != nil {
		return state.PoseTwist{}, err
	}
	pose, twist := m.Pose[idx], m.Twist[idx]

	var pt state.PoseTwist
	if pt.Position, err = pose.Position.value("pose.position"); err != nil {
		return pt, err
	}
	if pt.Orientation, err = pose.Orientation.value("pose.orientation"); err != nil {
		return pt, err
	}
	if pt.LinearVelocity, err = twist.Linear.value("twist.linear"); err != nil {
		return pt, err
	}
	if pt.AngularVelocity, err = twist.Angular.value("twist.angular"); err != nil {
		return pt, err
	}
	return pt, nil
}

func (m *inbound) accel() (geom.Vec3, error) {
	return m.LinearAcceleration.value("linear_acceleration")
}

// velocityCommand overlays the fields present in m onto cur.
func (m *inbound) velocityCommand(cur state.VelocityCommand) (state.VelocityCommand, error) {
	if m.VelocityForward == nil && m.VelocityLateral == nil && m.YawRate == nil {
		return cur, fmt.Errorf("%w: velocity_forward, velocity_lateral or yaw_rate", ErrMissingField)
	}
	if m.VelocityForward != nil {
		cur.Forward = *m.VelocityForward
	}
	if m.VelocityLateral != nil {
		cur.Lateral = *m.VelocityLateral
	}
	if m.YawRate != nil {
		cur.YawRate = *m.YawRate
	}
	return cur, nil
}

// Link is one entry of an outgoing link_states message.
type Link struct {
	Name string
	state.PoseTwist
}

type vec3Out struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quatOut struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

func v3out(v geom.Vec3) vec3Out { return vec3Out{v.X, v.Y, v.Z} }

// EncodeLinkStates renders a link_states line. It is used by the dev source
// and by tests.
func EncodeLinkStates(links []Link) ([]byte, error) {
	type pose struct {
		Position    vec3Out `json:"position"`
		Orientation quatOut `json:"orientation"`
	}
	type twist struct {
		Linear  vec3Out `json:"linear"`
		Angular vec3Out `json:"angular"`
	}
	out := struct {
		Type  string   `json:"type"`
		Name  []string `json:"name"`
		Pose  []pose   `json:"pose"`
		Twist []twist  `json:"twist"`
	}{Type: KindLinkStates}
	for _, l := range links {
		q := l.Orientation
		out.Name = append(out.Name, l.Name)
		out.Pose = append(out.Pose, pose{v3out(l.Position), quatOut{q.X, q.Y, q.Z, q.W}})
		out.Twist = append(out.Twist, twist{v3out(l.LinearVelocity), v3out(l.AngularVelocity)})
	}
	return json.Marshal(out)
}

// EncodeIMU renders an imu line.
func EncodeIMU(a geom.Vec3) ([]byte, error) {
	return json.Marshal(struct {
		Type string  `json:"type"`
		Acc  vec3Out `json:"linear_acceleration"`
	}{KindIMU, v3out(a)})
}

// EncodeVelocityCommand renders a velocity_command line.
func EncodeVelocityCommand(c state.VelocityCommand) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		state.VelocityCommand
	}{KindVelocityCommand, c})
}
