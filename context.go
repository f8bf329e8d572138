package pbwire

import (
	"context"
	"reflect"
)

// callState is the state of one Marshal or Unmarshal call. It is
// never shared between calls.
type callState struct {
	model *Model

	// written maps objects already written in reference format to
	// their key.
	written map[refKey]uint64
	// read maps keys to the objects read in reference format.
	read map[uint64]reflect.Value
}

// refKey is the identity of a pointer.
type refKey struct {
	t reflect.Type
	p uintptr
}

func newCallState(m *Model) *callState {
	return &callState{model: m}
}

// objectKey returns the reference key for the pointer v, and whether
// v was already written earlier in the call.
func (s *callState) objectKey(v reflect.Value) (key uint64, seen bool) {
	k := refKey{v.Type(), v.Pointer()}
	if key, ok := s.written[k]; ok {
		return key, true
	}
	if s.written == nil {
		s.written = map[refKey]uint64{}
	}
	key = uint64(len(s.written) + 1)
	s.written[k] = key
	return key, false
}

// object returns the object read earlier in the call with the given
// key.
func (s *callState) object(key uint64) (reflect.Value, bool) {
	v, ok := s.read[key]
	return v, ok
}

// addObject records v as the object for key.
func (s *callState) addObject(key uint64, v reflect.Value) {
	if s.read == nil {
		s.read = map[uint64]reflect.Value{}
	}
	s.read[key] = v
}

type callStateContextKey struct{}

func withCallState(ctx context.Context, st *callState) context.Context {
	return context.WithValue(ctx, callStateContextKey{}, st)
}

func contextCallState(ctx context.Context) *callState {
	if st, ok := ctx.Value(callStateContextKey{}).(*callState); ok {
		return st
	}
	return nil
}

// ContextModel returns the model performing the Marshal or Unmarshal
// call that ctx belongs to. It is intended for use by [Marshaler] and
// [Unmarshaler] implementations that need to encode nested values.
func ContextModel(ctx context.Context) (*Model, bool) {
	st := contextCallState(ctx)
	if st == nil {
		return nil, false
	}
	return st.model, true
}
