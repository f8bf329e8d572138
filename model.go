package pbwire

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"
	"github.com/rs/zerolog"
)

// A Model maps Go types to their protobuf encoding.
//
// Types are added to a model explicitly with [Model.Add], or
// implicitly the first time they are encoded or decoded. Adding a type
// resolves its configuration through the model's sources and
// handlers into a [MetaType], whose settings can be adjusted until
// the type is first used.
//
// A Model is safe for concurrent use.
type Model struct {
	log            zerolog.Logger
	sources        []Source
	memberHandlers []MemberHandler
	typeHandlers   []TypeHandler
	accessor       Accessor
	maxDepth       int
	strict         bool
	compile        bool
	autoAdd        bool
	implicit       ImplicitFields
	implicitFirst  int
	omitDefaults   bool

	mu    sync.RWMutex
	types map[reflect.Type]*MetaType
	names map[string]reflect.Type
	addMu sync.Mutex

	buildMu sync.Mutex
	built   map[codecKey]*valueCodec
	roots   cache[reflect.Type, *valueCodec]

	frozen atomic.Bool
}

// An Option configures a [Model].
type Option func(*Model)

// WithSources sets the configuration sources of the model, in
// priority order. The default is a single [TagSource].
func WithSources(srcs ...Source) Option {
	return func(m *Model) { m.sources = srcs }
}

// WithMemberHandlers sets the member handlers of the model, in
// priority order. The default is [NativeHandler], [LegacyHandler],
// [ImplicitHandler].
func WithMemberHandlers(hs ...MemberHandler) Option {
	return func(m *Model) { m.memberHandlers = hs }
}

// WithTypeHandlers sets the type handlers of the model, in priority
// order. The default is [NativeTypeHandler] followed by a
// [DefaultTypeHandler] carrying the model's implicit fields settings.
func WithTypeHandlers(hs ...TypeHandler) Option {
	return func(m *Model) { m.typeHandlers = hs }
}

// WithAccessor sets the model's object accessor. The default is
// [StructAccessor].
func WithAccessor(a Accessor) Option {
	return func(m *Model) { m.accessor = a }
}

// WithLogger sets the logger for schema events. The default discards
// all logs.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Model) { m.log = l }
}

// WithMaxDepth sets the maximum nesting of messages when encoding and
// decoding. The default is [fragments.DefaultMaxDepth].
func WithMaxDepth(n int) Option {
	return func(m *Model) { m.maxDepth = n }
}

// WithStrict makes decoding fail on include tags that match no
// declared subtype, instead of skipping them.
func WithStrict(strict bool) Option {
	return func(m *Model) { m.strict = strict }
}

// WithCompile selects the compiled serializers, which are specialized
// per member when built. Their output is identical to the default
// interpreted serializers.
func WithCompile(compile bool) Option {
	return func(m *Model) { m.compile = compile }
}

// WithAutoAdd sets whether types are added to the model on first
// use. The default is true. When false, types must be added with
// [Model.Add] before use.
func WithAutoAdd(auto bool) Option {
	return func(m *Model) { m.autoAdd = auto }
}

// WithImplicitFields sets the implicit fields mode and first
// implicit tag for types that don't configure their own.
func WithImplicitFields(mode ImplicitFields, firstTag int) Option {
	return func(m *Model) { m.implicit, m.implicitFirst = mode, firstTag }
}

// WithImplicitZeroDefaults sets whether members holding their default
// value are omitted when encoding. The default is true, matching
// proto3. Members can override it with the LegacyDefaults setting.
func WithImplicitZeroDefaults(omit bool) Option {
	return func(m *Model) { m.omitDefaults = omit }
}

// New returns a new Model.
func New(opts ...Option) *Model {
	m := &Model{
		log:            zerolog.Nop(),
		sources:        []Source{TagSource{}},
		memberHandlers: []MemberHandler{NativeHandler{}, LegacyHandler{}, ImplicitHandler{}},
		accessor:       StructAccessor{},
		autoAdd:        true,
		omitDefaults:   true,
		types:          map[reflect.Type]*MetaType{},
		names:          map[string]reflect.Type{},
		built:          map[codecKey]*valueCodec{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.typeHandlers == nil {
		m.typeHandlers = []TypeHandler{
			NativeTypeHandler{},
			DefaultTypeHandler{ImplicitFields: m.implicit, ImplicitFirstTag: m.implicitFirst},
		}
	}
	return m
}

var defaultModel = sync.OnceValue(func() *Model { return New() })

// Default returns the model used by the package-level [Marshal] and
// [Unmarshal].
func Default() *Model { return defaultModel() }

func (m *Model) lookup(t reflect.Type) *MetaType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[t]
}

// MetaType returns the MetaType for t, adding t to the model if
// needed and allowed. Pointer types resolve to the type they point
// to.
func (m *Model) MetaType(t reflect.Type) (*MetaType, error) {
	t = derefType(t)
	if mt := m.lookup(t); mt != nil {
		return mt, nil
	}
	if !m.autoAdd {
		return nil, TypeError{t.String(), ErrNotRegistered}
	}
	return m.Add(t)
}

// Add adds t to the model, and returns its MetaType. Adding a type
// that is already in the model returns the existing MetaType.
func (m *Model) Add(t reflect.Type) (*MetaType, error) {
	t = derefType(t)
	if mt := m.lookup(t); mt != nil {
		return mt, nil
	}
	m.addMu.Lock()
	defer m.addMu.Unlock()
	if mt := m.lookup(t); mt != nil {
		return mt, nil
	}
	if m.frozen.Load() {
		return nil, TypeError{t.String(), ErrModelFrozen}
	}

	mt, err := m.build(t)
	ctx := context.Background()
	if err != nil {
		m.log.Debug().Str("type", t.String()).Err(err).Msg("type rejected")
		emitTypeResolved(ctx, t.String(), 0, err)
		return nil, err
	}
	name := get(mt.settings.Name)

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.names[name]; ok {
		return nil, typeErr(t, "name %q already used by %s", name, prev)
	}
	m.types[t] = mt
	m.names[name] = t
	m.log.Debug().Str("type", t.String()).Str("name", name).Int("members", len(mt.members)).Int("subtypes", len(mt.subtypes)).Msg("type resolved")
	emitTypeResolved(ctx, t.String(), len(mt.members), nil)
	return mt, nil
}

// build resolves the configuration of t into a new MetaType.
func (m *Model) build(t reflect.Type) (*MetaType, error) {
	custom := isCustom(t)
	switch {
	case custom:
	case t.Kind() == reflect.Struct && t != timeType:
	case t.Kind() == reflect.Interface:
	case isEnumType(t) && t != durationType:
	default:
		return nil, typeErr(t, "not a message, interface or enum type")
	}

	ts, err := m.resolveType(t)
	if err != nil {
		return nil, err
	}
	mt := &MetaType{
		Type:   t,
		model:  m,
		custom: custom,
	}
	if t.Kind() == reflect.Struct && !custom {
		members, err := m.resolveMembers(ts, mt)
		if err != nil {
			return nil, err
		}
		if err := validateMembers(t, members); err != nil {
			return nil, err
		}
		mt.members = members
	}
	for _, sub := range ts.subtypes {
		subs, err := addSubtype(t, mt.subtypes, sub)
		if err != nil {
			return nil, err
		}
		mt.subtypes = subs
	}
	mt.settings = ts.settings.WithDefaults(t)
	return mt, nil
}

// typeByName returns the type registered with the given schema name.
func (m *Model) typeByName(name string) (reflect.Type, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.names[name]
	return t, ok
}

// Types returns the MetaTypes currently in the model.
func (m *Model) Types() []*MetaType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]*MetaType, 0, len(m.types))
	for _, mt := range m.types {
		ret = append(ret, mt)
	}
	return ret
}

// Freeze marks every type in the model as used, and prevents adding
// new types.
func (m *Model) Freeze() {
	m.frozen.Store(true)
	ctx := context.Background()
	for _, mt := range m.Types() {
		mt.freeze(ctx)
	}
	m.log.Debug().Msg("model frozen")
}

// Frozen reports whether [Model.Freeze] has been called.
func (m *Model) Frozen() bool { return m.frozen.Load() }

// invalidate drops the serializers built with the settings of mt.
func (m *Model) invalidate(mt *MetaType) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	if len(m.built) == 0 && m.roots.Len() == 0 {
		return
	}
	clear(m.built)
	m.roots.Clear()
	m.log.Debug().Str("type", mt.String()).Msg("serializers dropped")
	emitSerializerDropped(context.Background(), mt.String())
}

// Reachable returns the MetaTypes of roots and of every type
// reachable from them through members and subtypes, in breadth-first
// order.
func (m *Model) Reachable(roots ...reflect.Type) ([]*MetaType, error) {
	var (
		ret  []*MetaType
		q    queue.Queue[reflect.Type]
		seen = mapset.New[reflect.Type]()
	)
	push := func(t reflect.Type) {
		for _, c := range schemaTypes(t) {
			if !seen.Has(c) {
				seen.Add(c)
				q.Add(c)
			}
		}
	}
	for _, t := range roots {
		push(t)
	}
	for q.Len() > 0 {
		t, _ := q.Pop()
		mt, err := m.MetaType(t)
		if err != nil {
			return nil, err
		}
		ret = append(ret, mt)
		for _, mem := range mt.Members() {
			push(mem.Member.Type)
			for i := range mem.Depth() {
				l := mem.Level(i)
				for _, o := range []reflect.Type{get(l.EffectiveType), get(l.Collection.ItemType), get(l.Collection.ConcreteType)} {
					if o != nil {
						push(o)
					}
				}
			}
		}
		for _, sub := range mt.Subtypes() {
			push(sub.Type)
		}
		if ct, ok := mt.Settings().ConstructType.GetOK(); ok && ct != nil {
			push(ct)
		}
	}
	return ret, nil
}

// Prepare adds roots and every type reachable from them to the model,
// and builds their serializers, so that later calls don't pay for
// it.
func (m *Model) Prepare(roots ...reflect.Type) error {
	if _, err := m.Reachable(roots...); err != nil {
		return err
	}
	for _, t := range roots {
		if _, err := m.rootCodec(t); err != nil {
			return err
		}
	}
	return nil
}

// schemaTypes returns the types within t that have a MetaType: the
// message, interface and enum types reached by following pointers,
// collection elements and map keys and values.
func schemaTypes(t reflect.Type) []reflect.Type {
	t = derefType(t)
	switch {
	case t == timeType || t == durationType || t == uuidType || isBytes(t):
		return nil
	case isCustom(t):
		return []reflect.Type{t}
	case t.Kind() == reflect.Slice || t.Kind() == reflect.Array:
		return schemaTypes(t.Elem())
	case t.Kind() == reflect.Map:
		return append(schemaTypes(t.Key()), schemaTypes(t.Elem())...)
	case t.Kind() == reflect.Struct:
		return []reflect.Type{t}
	case t.Kind() == reflect.Interface && t.NumMethod() > 0:
		return []reflect.Type{t}
	case isEnumType(t):
		return []reflect.Type{t}
	}
	return nil
}

func (m *Model) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("pbwire.Model{%d types}", len(m.types))
}
