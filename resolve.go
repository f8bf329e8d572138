package pbwire

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/creachadair/mds/value"
)

// Result is the outcome of a handler's attempt to resolve a member or
// type.
type Result int

const (
	// NotFound means the handler had nothing to say. Resolution
	// continues with the next handler.
	NotFound Result = iota
	// Partial means the handler set some settings. Resolution
	// continues with the next handler.
	Partial
	// Done means the member or type is fully resolved. Remaining
	// handlers are skipped.
	Done
	// Ignore means the member must not be serialized.
	Ignore
)

func (r Result) String() string {
	switch r {
	case NotFound:
		return "NotFound"
	case Partial:
		return "Partial"
	case Done:
		return "Done"
	case Ignore:
		return "Ignore"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// A MemberHandler contributes settings to a member being resolved.
type MemberHandler interface {
	ResolveMember(st *MemberState) Result
}

// A TypeHandler contributes settings to a type being resolved.
type TypeHandler interface {
	ResolveType(st *TypeState) Result
}

// MemberHandlerFunc adapts a function to a [MemberHandler].
type MemberHandlerFunc func(st *MemberState) Result

func (f MemberHandlerFunc) ResolveMember(st *MemberState) Result { return f(st) }

// TypeHandlerFunc adapts a function to a [TypeHandler].
type TypeHandlerFunc func(st *TypeState) Result

func (f TypeHandlerFunc) ResolveType(st *TypeState) Result { return f(st) }

// TypeState is the working state of a type being resolved.
//
// Settings are first-set-wins: a handler cannot overwrite a setting
// that an earlier handler set.
type TypeState struct {
	// Type is the type being resolved.
	Type reflect.Type
	// Records are the type's configuration records, in priority
	// order.
	Records []Attribute

	settings TypeSettings
	subtypes []Subtype
	errs     []error
}

// Settings returns the type settings accumulated so far.
func (s *TypeState) Settings() TypeSettings { return s.settings }

// Apply sets every field of ts that is not already set.
func (s *TypeState) Apply(ts TypeSettings) {
	s.settings = MergeType(ts, s.settings)
}

// AddSubtype declares t as a subtype with the given include tag.
func (s *TypeState) AddSubtype(tag int, t reflect.Type) {
	s.subtypes = append(s.subtypes, Subtype{tag, t})
}

// Fail records a configuration error. Resolution of the type fails
// once all handlers have run.
func (s *TypeState) Fail(err error) {
	s.errs = append(s.errs, err)
}

// MemberState is the working state of a member being resolved.
//
// Settings are first-set-wins: a handler cannot overwrite a setting
// that an earlier handler set.
type MemberState struct {
	// Type is the state of the member's owning type. Its settings
	// are final.
	Type *TypeState
	// Member is the member being resolved.
	Member *Member
	// Records are the member's configuration records, in priority
	// order.
	Records []Attribute

	tag          int
	forced       bool
	name         value.Maybe[string]
	required     value.Maybe[bool]
	defaultValue value.Maybe[any]
	settings     MemberSettings
	level1       bool
	implicit     bool
	inferred     bool
	errs         []error
}

func newMemberState(ts *TypeState, m *Member, recs []Attribute) *MemberState {
	return &MemberState{
		Type:    ts,
		Member:  m,
		Records: recs,
		tag:     TagUnset,
	}
}

// Tag returns the tag assigned so far, or [TagUnset].
func (s *MemberState) Tag() int { return s.tag }

// SetTag sets the member's tag, if not already set. A forced tag is
// kept even if invalid, so that resolution reports it as an error.
func (s *MemberState) SetTag(tag int, force bool) {
	if s.tag != TagUnset {
		return
	}
	s.tag, s.forced = tag, force
}

// SetName sets the member's schema name, if not already set.
func (s *MemberState) SetName(name string) {
	if !s.name.Present() {
		s.name = value.Just(name)
	}
}

// SetRequired sets whether the member is required, if not already
// set.
func (s *MemberState) SetRequired(required bool) {
	if !s.required.Present() {
		s.required = value.Just(required)
	}
}

// SetDefault sets the member's default value, if not already set.
func (s *MemberState) SetDefault(v any) {
	if !s.defaultValue.Present() {
		s.defaultValue = value.Just(v)
	}
}

// Level returns the settings of nesting level i accumulated so far.
func (s *MemberState) Level(i int) MemberLevelSettings {
	return s.settings.Level(i)
}

// MergeLevel sets every field of l that is not already set at
// nesting level i.
func (s *MemberState) MergeLevel(i int, l MemberLevelSettings) {
	if l.IsZero() {
		return
	}
	s.settings.SetLevel(i, Merge(l, s.settings.Level(i)))
	if i == 1 {
		s.level1 = true
	}
}

// MarkImplicit marks the member for implicit tag assignment, once all
// of its type's members are resolved.
func (s *MemberState) MarkImplicit() { s.implicit = true }

// Fail records a configuration error. Resolution of the member's type
// fails once all handlers have run.
func (s *MemberState) Fail(err error) {
	s.errs = append(s.errs, err)
}

// resolveType runs the type handlers on t.
func (m *Model) resolveType(t reflect.Type) (*TypeState, error) {
	st := &TypeState{Type: t}
	for _, src := range m.sources {
		recs, err := src.TypeAttributes(t)
		if err != nil {
			return nil, err
		}
		st.Records = append(st.Records, recs...)
	}
	for _, h := range m.typeHandlers {
		if h.ResolveType(st) == Done {
			break
		}
	}
	if err := errors.Join(st.errs...); err != nil {
		return nil, TypeError{t.String(), err}
	}
	return st, nil
}

// resolveMembers runs the member handlers on every member of the
// struct type of ts, and assigns implicit and inferred tags. The
// returned members are in declaration order.
func (m *Model) resolveMembers(ts *TypeState, mt *MetaType) ([]*MappedMember, error) {
	t := ts.Type
	members, err := m.accessor.Members(t)
	if err != nil {
		return nil, typeErr(t, "%w", err)
	}

	states := make([]*MemberState, 0, len(members))
	configured := false
	for _, mem := range members {
		var recs []Attribute
		for _, src := range m.sources {
			rs, err := src.MemberAttributes(t, mem)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rs...)
		}
		configured = configured || len(recs) > 0
		states = append(states, newMemberState(ts, mem, recs))
	}
	settings := ts.settings.WithDefaults(t)
	if get(settings.AutoTuple) && !configured && get(settings.ImplicitFields) == ImplicitNone {
		ts.settings.ImplicitFields = value.Just(ImplicitDeclared)
	}

	var (
		ret      []*MappedMember
		pending  []*MemberState
		resolved []*MemberState
	)
	for _, st := range states {
		ignored := false
	handlers:
		for _, h := range m.memberHandlers {
			switch h.ResolveMember(st) {
			case Done:
				break handlers
			case Ignore:
				ignored = true
				break handlers
			}
		}
		if err := errors.Join(st.errs...); err != nil {
			return nil, typeErr(t, "member %s: %w", st.Member.Name, err)
		}
		if ignored {
			m.log.Debug().Str("type", t.String()).Str("member", st.Member.Name).Msg("member ignored")
			continue
		}
		if st.tag == TagUnset && !st.implicit && get(settings.InferTagFromName) && len(st.Records) > 0 {
			st.tag, st.inferred = -1, true
		}
		if st.tag == TagUnset && st.implicit {
			st.tag = -1
		}
		min := 1
		if st.inferred || st.implicit {
			min = -1
		}
		if st.tag < min {
			if st.forced {
				return nil, typeErr(t, "%w", InvalidTagError{Member: st.Member.Name, Tag: st.tag})
			}
			m.log.Debug().Str("type", t.String()).Str("member", st.Member.Name).Msg("member has no tag, skipped")
			continue
		}
		if st.tag == -1 {
			pending = append(pending, st)
		}
		resolved = append(resolved, st)
	}

	assignPendingTags(pending, resolved, get(settings.ImplicitFirstTag), get(settings.ImplicitFields))

	for _, st := range resolved {
		ret = append(ret, st.mapped(mt))
	}
	if len(ret) == 0 && len(members) > 0 {
		return nil, TypeError{t.String(), ErrNoSerializableMembers}
	}
	return ret, nil
}

// assignPendingTags numbers the members with a pending tag from
// first, skipping tags already in use. Members whose tag was inferred
// from their configuration are numbered first, in name order, then
// implicit members in the order selected by mode.
func assignPendingTags(pending, all []*MemberState, first int, mode ImplicitFields) {
	if len(pending) == 0 {
		return
	}
	used := map[int]bool{}
	for _, st := range all {
		if st.tag > 0 {
			used[st.tag] = true
		}
	}
	var inferred, implicit []*MemberState
	for _, st := range pending {
		if st.inferred {
			inferred = append(inferred, st)
		} else {
			implicit = append(implicit, st)
		}
	}
	byName := func(a, b *MemberState) int { return strings.Compare(a.Member.Name, b.Member.Name) }
	slices.SortStableFunc(inferred, byName)
	if mode == ImplicitAlphabetical {
		slices.SortStableFunc(implicit, byName)
	}
	next := first
	for _, st := range append(inferred, implicit...) {
		for used[next] || IsReservedTag(next) {
			next++
		}
		st.tag = next
		used[next] = true
		next++
	}
}

// mapped returns the MappedMember for a resolved state.
func (s *MemberState) mapped(owner *MetaType) *MappedMember {
	settings := s.settings.clone()
	if !s.level1 {
		// Elements of a collection inherit the member's encoding
		// unless configured separately.
		l0 := settings.Level(0)
		settings.SetLevel(1, MemberLevelSettings{
			ContentFormat: l0.ContentFormat,
			Format:        l0.Format,
			DynamicType:   l0.DynamicType,
		})
	}
	name, ok := s.name.GetOK()
	if !ok {
		name = s.Member.Name
	}
	def, _ := s.defaultValue.GetOK()
	return &MappedMember{
		Member: s.Member,
		owner:  owner,
		main: MemberMainSettings{
			Tag:          s.tag,
			Name:         name,
			Required:     get(s.required),
			DefaultValue: def,
		},
		settings: settings,
	}
}
