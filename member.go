package pbwire

import (
	"fmt"
	"math"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/creachadair/mds/value"
)

// TagUnset is the tag of a member that no configuration has assigned
// a tag to yet. It is distinct from every valid tag and from -1, which
// marks a tag to be inferred from the member's name.
const TagUnset = math.MinInt32

// MemberMainSettings are the settings of a member that don't vary by
// nesting level.
type MemberMainSettings struct {
	Tag  int
	Name string
	// Required members are encoded even when they hold their default
	// value.
	Required bool
	// DefaultValue, if non-nil, is the value an absent member decodes
	// to, and the value omitted when encoding with legacy defaults.
	DefaultValue any
}

// A MappedMember is a member of a type with its resolved settings.
//
// Settings may be changed until the member's serializer is first
// used, after which attempts to change them fail with a
// [FrozenSettingError].
type MappedMember struct {
	// Member is the member descriptor this mapping was resolved from.
	Member *Member

	owner *MetaType

	mu       sync.Mutex
	frozen   atomic.Bool
	main     MemberMainSettings
	settings MemberSettings
}

func (m *MappedMember) String() string {
	return fmt.Sprintf("%s.%s", m.owner.Type, m.Member.Name)
}

// lock locks m's settings if they can still change, and returns the
// matching unlock function.
func (m *MappedMember) lock() func() {
	if m.frozen.Load() {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// Main returns the member's main settings.
func (m *MappedMember) Main() MemberMainSettings {
	defer m.lock()()
	return m.main
}

// Tag returns the member's field number.
func (m *MappedMember) Tag() int {
	defer m.lock()()
	return m.main.Tag
}

// Name returns the member's name in schemas.
func (m *MappedMember) Name() string {
	defer m.lock()()
	return m.main.Name
}

// Level returns the member's settings for nesting level i.
func (m *MappedMember) Level(i int) MemberLevelSettings {
	defer m.lock()()
	return m.settings.Level(i)
}

// Depth returns the number of nesting levels with settings.
func (m *MappedMember) Depth() int {
	defer m.lock()()
	return m.settings.Depth()
}

// Frozen reports whether the member's settings can no longer change.
func (m *MappedMember) Frozen() bool { return m.frozen.Load() }

func (m *MappedMember) freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen.Store(true)
}

// change applies a setting change. Setting a value identical to the
// current one always succeeds.
func (m *MappedMember) change(setting string, old, new any, apply func()) error {
	m.mu.Lock()
	if reflect.DeepEqual(old, new) {
		m.mu.Unlock()
		return nil
	}
	if m.frozen.Load() {
		m.mu.Unlock()
		return FrozenSettingError{Member: m.String(), Setting: setting, Old: old, New: new}
	}
	apply()
	m.mu.Unlock()
	m.owner.changed()
	return nil
}

// SetTag changes the member's field number. The new tag must not be
// in use by another member of the type.
func (m *MappedMember) SetTag(tag int) error {
	// Tag changes hold the owner's lock, so that the conflict check and
	// the change are atomic with respect to the other members.
	mt := m.owner
	mt.mu.Lock()
	m.mu.Lock()
	old := m.main.Tag
	err := func() error {
		if old == tag {
			return nil
		}
		if m.frozen.Load() || mt.frozen.Load() {
			return FrozenSettingError{Member: m.String(), Setting: "Tag", Old: old, New: tag}
		}
		if err := mt.checkMemberTagLocked(m, tag); err != nil {
			return err
		}
		m.main.Tag = tag
		return nil
	}()
	m.mu.Unlock()
	mt.mu.Unlock()
	if err != nil || old == tag {
		return err
	}
	mt.changed()
	return nil
}

// SetName changes the member's name in schemas.
func (m *MappedMember) SetName(name string) error {
	return m.change("Name", m.Name(), name, func() { m.main.Name = name })
}

// SetRequired changes whether the member is always encoded.
func (m *MappedMember) SetRequired(required bool) error {
	return m.change("Required", m.Main().Required, required, func() { m.main.Required = required })
}

// SetDefaultValue changes the member's default value.
func (m *MappedMember) SetDefaultValue(v any) error {
	return m.change("DefaultValue", m.Main().DefaultValue, v, func() { m.main.DefaultValue = v })
}

// SetLevel replaces the member's settings for nesting level i.
func (m *MappedMember) SetLevel(i int, s MemberLevelSettings) error {
	return m.change(fmt.Sprintf("Level[%d]", i), m.Level(i), s, func() { m.settings.SetLevel(i, s) })
}

// SetDataFormat changes the integer encoding of the member. For
// collection members it changes the encoding of the elements.
func (m *MappedMember) SetDataFormat(f DataFormat) error {
	i := 0
	if isCollection(m.Member.Type) {
		i = 1
	}
	cur := m.Level(i)
	old, _ := cur.ContentFormat.GetOK()
	next := cur
	next.ContentFormat = value.Just(f)
	return m.change("DataFormat", old, f, func() { m.settings.SetLevel(i, next) })
}

// checkTag validates tag as the field number of the named member.
func checkTag(member string, tag int) error {
	if IsReservedTag(tag) {
		return fmt.Errorf("member %s: %w", member, ErrReservedTag)
	}
	if tag < 1 || tag > maxTag {
		return InvalidTagError{Member: member, Tag: tag}
	}
	return nil
}
