package pbwire

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// An Attribute is one configuration record for a type or member, as
// produced by a [Source]. Handlers read its values by name.
type Attribute interface {
	// Kind names the configuration dialect the record belongs to.
	Kind() string
	// TryGet returns the value of the named key, if present.
	TryGet(name string) (any, bool)
}

// Record kinds understood by the shipped handlers.
const (
	// KindNative records configure a member, see [NativeHandler].
	KindNative = "pb"
	// KindLegacy records configure a member using golang/protobuf
	// struct tag conventions, see [LegacyHandler].
	KindLegacy = "protobuf"
	// KindContract records configure a type, see
	// [NativeTypeHandler].
	KindContract = "pb.contract"
	// KindInclude records declare a subtype of an interface type,
	// with keys KeyTag and KeyType.
	KindInclude = "pb.include"
)

// Record keys understood by the shipped handlers.
const (
	KeyTag              = "Tag"              // int
	KeyName             = "Name"             // string
	KeyRequired         = "Required"         // bool
	KeyDefault          = "Default"          // any
	KeyIgnore           = "Ignore"           // bool
	KeyLevel            = "Level"            // int, the nesting level a member record configures
	KeyDataFormat       = "DataFormat"       // DataFormat
	KeyValueFormat      = "ValueFormat"      // ValueFormat
	KeyCollectionFormat = "CollectionFormat" // CollectionFormat
	KeyDynamicType      = "DynamicType"      // bool
	KeyLegacyDefaults   = "LegacyDefaults"   // bool
	KeyAppend           = "Append"           // bool
	KeyLengthLimit      = "LengthLimit"      // int
	KeyEffectiveType    = "EffectiveType"    // reflect.Type
	KeyItemType         = "ItemType"         // reflect.Type
	KeyConcreteType     = "ConcreteType"     // reflect.Type
	KeyPackedWireType   = "PackedWireType"   // fragments.WireType
	KeyType             = "Type"             // reflect.Type

	KeyEnumPassthru       = "EnumPassthru"       // bool
	KeySkipConstructor    = "SkipConstructor"    // bool
	KeyIgnoreListHandling = "IgnoreListHandling" // bool
	KeyPrefixLength       = "PrefixLength"       // bool
	KeyConstructType      = "ConstructType"      // reflect.Type
	KeyAutoTuple          = "AutoTuple"          // bool
	KeyImplicitFields     = "ImplicitFields"     // ImplicitFields
	KeyImplicitFirstTag   = "ImplicitFirstTag"   // int
	KeyInferTagFromName   = "InferTagFromName"   // bool
)

// A Record is an [Attribute] backed by a map.
type Record struct {
	Dialect string
	Values  map[string]any
}

func (r Record) Kind() string { return r.Dialect }

func (r Record) TryGet(name string) (any, bool) {
	v, ok := r.Values[name]
	return v, ok
}

func (r Record) String() string {
	return fmt.Sprintf("%s%v", r.Dialect, r.Values)
}

// attr returns the value of the named key in a as a T. Numeric values
// are converted between numeric types.
func attr[T any](a Attribute, name string) (ret T, ok bool, err error) {
	v, ok := a.TryGet(name)
	if !ok || v == nil {
		return ret, false, nil
	}
	if ret, ok := v.(T); ok {
		return ret, true, nil
	}
	want := reflect.TypeFor[T]()
	rv := reflect.ValueOf(v)
	if isNumber(rv.Kind()) && isNumber(want.Kind()) {
		return rv.Convert(want).Interface().(T), true, nil
	}
	return ret, false, fmt.Errorf("%s record key %s is %T, want %s", a.Kind(), name, v, want)
}

func isNumber(k reflect.Kind) bool {
	return intKinds.Has(k) || k == reflect.Float32 || k == reflect.Float64
}

// A Source supplies configuration records for types and their
// members. Records are returned in priority order.
type Source interface {
	TypeAttributes(t reflect.Type) ([]Attribute, error)
	MemberAttributes(t reflect.Type, m *Member) ([]Attribute, error)
}

// MapSource is a [Source] of records registered in code. The zero
// value is ready to use.
type MapSource struct {
	mu      sync.Mutex
	types   map[reflect.Type][]Attribute
	members map[reflect.Type]map[string][]Attribute
}

// AddType adds records for t.
func (s *MapSource) AddType(t reflect.Type, attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.types == nil {
		s.types = map[reflect.Type][]Attribute{}
	}
	s.types[t] = append(s.types[t], attrs...)
}

// AddMember adds records for the named member of t.
func (s *MapSource) AddMember(t reflect.Type, member string, attrs ...Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members == nil {
		s.members = map[reflect.Type]map[string][]Attribute{}
	}
	if s.members[t] == nil {
		s.members[t] = map[string][]Attribute{}
	}
	s.members[t][member] = append(s.members[t][member], attrs...)
}

func (s *MapSource) TypeAttributes(t reflect.Type) ([]Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attribute(nil), s.types[t]...), nil
}

func (s *MapSource) MemberAttributes(t reflect.Type, m *Member) ([]Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attribute(nil), s.members[t][m.Name]...), nil
}

// TagSource is the [Source] of configuration in struct tags.
//
// Members are configured with a "pb" tag holding an optional field
// number followed by options:
//
//	ID    int64            `pb:"1,zigzag"`
//	Tags  []string         `pb:"2,append,limit=100"`
//	Next  *Node            `pb:"3,ref"`
//	Value any              `pb:"4,dynamic"`
//	Flags []uint32         `pb:"5,packed,fixed"`
//	Extra string           `pb:"-"`
//
// Options are: a data format (default, zigzag, twoscomplement,
// fixed), packed, repeated, required, a value format (compact, ref,
// enhanced), dynamic, append, replace, omitdefault, writedefault,
// name=N, default=V and limit=N. A "pbitem" tag takes the same options
// without a field number, and configures the elements of a collection
// member.
//
// Members with golang/protobuf style "protobuf" tags produce
// [KindLegacy] records, and the type's [Contract] marker field
// produces a [KindContract] record.
type TagSource struct{}

func (TagSource) TypeAttributes(t reflect.Type) ([]Attribute, error) {
	tag, ok := contractTag(t)
	if !ok {
		return nil, nil
	}
	r, err := parseContractTag(tag.Get("pb"))
	if err != nil {
		return nil, typeErr(t, "invalid contract tag: %w", err)
	}
	return []Attribute{r}, nil
}

func (TagSource) MemberAttributes(t reflect.Type, m *Member) ([]Attribute, error) {
	var ret []Attribute
	if s, ok := m.Tag.Lookup("pb"); ok {
		r, err := parseMemberTag(s, true)
		if err != nil {
			return nil, typeErr(t, "invalid tag on %s: %w", m.Name, err)
		}
		ret = append(ret, r)
	}
	if s, ok := m.Tag.Lookup("pbitem"); ok {
		r, err := parseMemberTag(s, false)
		if err != nil {
			return nil, typeErr(t, "invalid item tag on %s: %w", m.Name, err)
		}
		r.Values[KeyLevel] = 1
		ret = append(ret, r)
	}
	if s, ok := m.Tag.Lookup("protobuf"); ok {
		r, err := parseLegacyTag(s)
		if err != nil {
			return nil, typeErr(t, "invalid protobuf tag on %s: %w", m.Name, err)
		}
		ret = append(ret, r)
		if s, ok := m.Tag.Lookup("protobuf_val"); ok {
			r, err := parseLegacyTag(s)
			if err != nil {
				return nil, typeErr(t, "invalid protobuf_val tag on %s: %w", m.Name, err)
			}
			delete(r.Values, KeyTag)
			r.Values[KeyLevel] = 1
			ret = append(ret, r)
		}
	}
	return ret, nil
}

// parseMemberOption applies one shared member option to vals, and
// reports whether it recognized it.
func parseMemberOption(f string, vals map[string]any) (bool, error) {
	switch f {
	case "default", "zigzag", "twoscomplement", "fixed":
		df, _ := ParseDataFormat(f)
		vals[KeyDataFormat] = df
	case "compact", "ref", "enhanced":
		vf, _ := ParseValueFormat(f)
		vals[KeyValueFormat] = vf
	case "packed":
		vals[KeyCollectionFormat] = CollectionPacked
	case "repeated":
		vals[KeyCollectionFormat] = CollectionRepeated
	case "dynamic":
		vals[KeyDynamicType] = true
	case "append":
		vals[KeyAppend] = true
	case "replace":
		vals[KeyAppend] = false
	case "omitdefault":
		vals[KeyLegacyDefaults] = true
	case "writedefault":
		vals[KeyLegacyDefaults] = false
	default:
		if v, ok := strings.CutPrefix(f, "limit="); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return false, fmt.Errorf("invalid limit %q: %w", v, err)
			}
			vals[KeyLengthLimit] = n
			return true, nil
		}
		return false, nil
	}
	return true, nil
}

// parseMemberTag parses a "pb" or "pbitem" tag into a KindNative
// record.
func parseMemberTag(s string, withTag bool) (Record, error) {
	ret := Record{KindNative, map[string]any{}}
	if s == "-" {
		ret.Values[KeyIgnore] = true
		return ret, nil
	}
	for i, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if i == 0 && withTag {
			if n, err := strconv.Atoi(f); err == nil {
				ret.Values[KeyTag] = n
				continue
			}
		}
		if ok, err := parseMemberOption(f, ret.Values); err != nil {
			return Record{}, err
		} else if ok {
			continue
		}
		switch {
		case f == "required" && withTag:
			ret.Values[KeyRequired] = true
		case strings.HasPrefix(f, "name=") && withTag:
			ret.Values[KeyName] = strings.TrimPrefix(f, "name=")
		case strings.HasPrefix(f, "default=") && withTag:
			ret.Values[KeyDefault] = strings.TrimPrefix(f, "default=")
		default:
			return Record{}, fmt.Errorf("unknown option %q", f)
		}
	}
	return ret, nil
}

// parseContractTag parses the "pb" tag of a Contract marker into a
// KindContract record.
func parseContractTag(s string) (Record, error) {
	ret := Record{KindContract, map[string]any{}}
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if ok, err := parseMemberOption(f, ret.Values); err != nil {
			return Record{}, err
		} else if ok {
			continue
		}
		k, v, _ := strings.Cut(f, "=")
		switch k {
		case "name":
			ret.Values[KeyName] = v
		case "group":
			ret.Values[KeyPrefixLength] = false
		case "passthru":
			ret.Values[KeyEnumPassthru] = true
		case "nopassthru":
			ret.Values[KeyEnumPassthru] = false
		case "skipctor":
			ret.Values[KeySkipConstructor] = true
		case "nolist":
			ret.Values[KeyIgnoreListHandling] = true
		case "autotuple":
			ret.Values[KeyAutoTuple] = true
		case "infer":
			ret.Values[KeyInferTagFromName] = true
		case "implicit":
			mode, err := ParseImplicitFields(v)
			if err != nil {
				return Record{}, err
			}
			ret.Values[KeyImplicitFields] = mode
		case "first":
			n, err := strconv.Atoi(v)
			if err != nil {
				return Record{}, fmt.Errorf("invalid first tag %q: %w", v, err)
			}
			ret.Values[KeyImplicitFirstTag] = n
		default:
			return Record{}, fmt.Errorf("unknown option %q", f)
		}
	}
	return ret, nil
}

// parseLegacyTag parses a golang/protobuf style struct tag, such as
// "varint,1,opt,name=id,proto3", into a KindLegacy record.
func parseLegacyTag(s string) (Record, error) {
	ret := Record{KindLegacy, map[string]any{}}
	fs := strings.Split(s, ",")
	if len(fs) < 2 {
		return Record{}, fmt.Errorf("malformed protobuf tag %q", s)
	}
	switch fs[0] {
	case "varint":
		ret.Values[KeyDataFormat] = FormatDefault
	case "zigzag32", "zigzag64":
		ret.Values[KeyDataFormat] = FormatZigZag
	case "fixed32", "fixed64":
		ret.Values[KeyDataFormat] = FormatFixedSize
	case "bytes", "group":
	default:
		return Record{}, fmt.Errorf("unknown protobuf encoding %q", fs[0])
	}
	n, err := strconv.Atoi(fs[1])
	if err != nil {
		return Record{}, fmt.Errorf("invalid protobuf field number %q: %w", fs[1], err)
	}
	ret.Values[KeyTag] = n
	for _, f := range fs[2:] {
		k, v, _ := strings.Cut(f, "=")
		switch k {
		case "req":
			ret.Values[KeyRequired] = true
		case "packed":
			ret.Values[KeyCollectionFormat] = CollectionPacked
		case "name":
			ret.Values[KeyName] = v
		case "def":
			ret.Values[KeyDefault] = v
		}
	}
	return ret, nil
}
