package publish

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/motiongen/internal/dispatch"
)

var ErrBadMessage = errors.New("bad command message")

// CommandToStruct encodes cmd with the same keys as its JSON form.
func CommandToStruct(cmd *dispatch.Command) *structpb.Struct {
	feet := make([]*structpb.Value, len(cmd.ContactFeet))
	for i, f := range cmd.ContactFeet {
		feet[i] = structpb.NewStringValue(f)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"tick":         structpb.NewNumberValue(float64(cmd.Tick)),
		"elapsed":      structpb.NewNumberValue(cmd.Elapsed),
		"phase":        structpb.NewStringValue(cmd.Phase),
		"contact_feet": structpb.NewListValue(&structpb.ListValue{Values: feet}),
		"base_acc":     numbers(cmd.BaseAcc[:]),
		"base_vel":     numbers(cmd.BaseVel[:]),
		"base_pos":     numbers(cmd.BasePos[:]),
		"base_angvel":  numbers(cmd.BaseAngVel[:]),
		"base_quat":    numbers(cmd.BaseQuat[:]),
		"feet_acc":     numbers(cmd.FeetAcc),
		"feet_vel":     numbers(cmd.FeetVel),
		"feet_pos":     numbers(cmd.FeetPos),
	}}
}

func numbers(v []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, f := range v {
		vals[i] = structpb.NewNumberValue(f)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

// CommandFromStruct decodes a streamed command.
func CommandFromStruct(s *structpb.Struct) (*dispatch.Command, error) {
	d := decoder{fields: s.GetFields()}
	cmd := &dispatch.Command{
		Tick:    uint64(d.number("tick")),
		Elapsed: d.number("elapsed"),
		Phase:   d.str("phase"),
	}
	cmd.ContactFeet = d.strs("contact_feet")
	d.fixed("base_acc", cmd.BaseAcc[:])
	d.fixed("base_vel", cmd.BaseVel[:])
	d.fixed("base_pos", cmd.BasePos[:])
	d.fixed("base_angvel", cmd.BaseAngVel[:])
	d.fixed("base_quat", cmd.BaseQuat[:])
	cmd.FeetAcc = d.list("feet_acc")
	cmd.FeetVel = d.list("feet_vel")
	cmd.FeetPos = d.list("feet_pos")
	if d.err != nil {
		return nil, d.err
	}
	return cmd, nil
}

// decoder records the first failure and turns later lookups into no-ops.
type decoder struct {
	fields map[string]*structpb.Value
	err    error
}

func (d *decoder) value(key string) *structpb.Value {
	if d.err != nil {
		return nil
	}
	v, ok := d.fields[key]
	if !ok {
		d.err = fmt.Errorf("%w: missing %q", ErrBadMessage, key)
		return nil
	}
	return v
}

func (d *decoder) number(key string) float64 {
	v := d.value(key)
	if v == nil {
		return 0
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		d.err = fmt.Errorf("%w: %q is not a number", ErrBadMessage, key)
		return 0
	}
	return n.NumberValue
}

func (d *decoder) str(key string) string {
	v := d.value(key)
	if v == nil {
		return ""
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		d.err = fmt.Errorf("%w: %q is not a string", ErrBadMessage, key)
		return ""
	}
	return s.StringValue
}

func (d *decoder) items(key string) []*structpb.Value {
	v := d.value(key)
	if v == nil {
		return nil
	}
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		d.err = fmt.Errorf("%w: %q is not a list", ErrBadMessage, key)
		return nil
	}
	return l.ListValue.GetValues()
}

func (d *decoder) list(key string) []float64 {
	items := d.items(key)
	out := make([]float64, 0, len(items))
	for _, it := range items {
		n, ok := it.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			d.err = fmt.Errorf("%w: %q holds a non-number", ErrBadMessage, key)
			return nil
		}
		out = append(out, n.NumberValue)
	}
	return out
}

func (d *decoder) strs(key string) []string {
	items := d.items(key)
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.GetKind().(*structpb.Value_StringValue)
		if !ok {
			d.err = fmt.Errorf("%w: %q holds a non-string", ErrBadMessage, key)
			return nil
		}
		out = append(out, s.StringValue)
	}
	return out
}

func (d *decoder) fixed(key string, dst []float64) {
	vals := d.list(key)
	if d.err != nil {
		return
	}
	if len(vals) != len(dst) {
		d.err = fmt.Errorf("%w: %q has %d values, want %d", ErrBadMessage, key, len(vals), len(dst))
		return
	}
	copy(dst, vals)
}

// StreamRequest builds a StreamCommands request. No phases means every
// phase; every below 2 means every command.
func StreamRequest(phases []string, every int) (*structpb.Struct, error) {
	m := map[string]any{}
	if len(phases) > 0 {
		list := make([]any, len(phases))
		for i, p := range phases {
			list[i] = p
		}
		m["phases"] = list
	}
	if every > 1 {
		m["every"] = float64(every)
	}
	return structpb.NewStruct(m)
}
