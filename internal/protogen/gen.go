// Package protogen writes .proto schemas that describe the wire
// encoding of the types in a pbwire model.
package protogen

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/value"
	"github.com/danderson/pbwire"
	"github.com/google/uuid"
)

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	uuidType     = reflect.TypeFor[uuid.UUID]()
)

// wrapperFields are the fields shared by every wrapper message.
const wrapperFields = `  optional uint64 existing_key = 1;
  optional uint64 new_key = 2;
  optional string type_name = 3;
`

type generator struct {
	m       *pbwire.Model
	names   map[reflect.Type]string
	imports mapset.Set[string]
	helpers map[string]string
}

type block struct {
	name string
	text string
}

// Schema returns a proto2 schema for roots and every type reachable
// from them in m. If pkg is not empty, the schema declares it as its
// package.
func Schema(m *pbwire.Model, pkg string, roots ...reflect.Type) (string, error) {
	if m == nil {
		return "", errors.New("no model provided")
	}
	mts, err := m.Reachable(roots...)
	if err != nil {
		return "", err
	}
	g := generator{
		m:       m,
		names:   map[reflect.Type]string{},
		imports: mapset.New[string](),
		helpers: map[string]string{},
	}
	byName := map[string]reflect.Type{}
	for _, mt := range mts {
		if !g.emitted(mt) {
			continue
		}
		n := messageName(mt.Name())
		if prev, ok := byName[n]; ok {
			return "", fmt.Errorf("%s and %s both map to message name %q", prev, mt.Type, n)
		}
		byName[n] = mt.Type
		g.names[mt.Type] = n
	}

	var blocks []block
	for _, mt := range mts {
		if !g.emitted(mt) {
			continue
		}
		text, err := g.Type(mt)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, block{g.names[mt.Type], text})
	}
	slices.SortFunc(blocks, func(a, b block) int { return cmp.Compare(a.name, b.name) })

	var helpers []block
	for n, text := range g.helpers {
		helpers = append(helpers, block{n, text})
	}
	slices.SortFunc(helpers, func(a, b block) int { return cmp.Compare(a.name, b.name) })

	var out bytes.Buffer
	out.WriteString("// Code generated by pbwire. DO NOT EDIT.\n\n")
	out.WriteString("syntax = \"proto2\";\n\n")
	if pkg != "" {
		fmt.Fprintf(&out, "package %s;\n\n", pkg)
	}
	if len(g.imports) > 0 {
		for _, imp := range slices.Sorted(maps.Keys(g.imports)) {
			fmt.Fprintf(&out, "import %q;\n", imp)
		}
		out.WriteString("\n")
	}
	for i, b := range append(blocks, helpers...) {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(b.text)
	}
	return out.String(), nil
}

// emitted reports whether mt gets its own block in the schema. Enum
// types without values are written as plain integers.
func (g *generator) emitted(mt *pbwire.MetaType) bool {
	if mt.Type.Kind() == reflect.Struct || mt.Type.Kind() == reflect.Interface || mt.Custom() {
		return true
	}
	return mt.IsEnum()
}

func (g *generator) Type(mt *pbwire.MetaType) (string, error) {
	name := g.names[mt.Type]
	var out bytes.Buffer
	switch {
	case mt.Custom():
		fmt.Fprintf(&out, "// %s encodes itself, its fields are not known.\nmessage %s {\n}\n", mt.Type, name)
	case mt.IsEnum():
		g.Enum(&out, name, mt)
	case mt.Type.Kind() == reflect.Interface:
		fmt.Fprintf(&out, "message %s {\n", name)
		if ct, ok := mt.Settings().ConstructType.GetOK(); ok && ct != nil {
			base, err := g.m.MetaType(ct)
			if err != nil {
				return "", err
			}
			if err := g.Fields(&out, base); err != nil {
				return "", err
			}
		}
		if subs := mt.Subtypes(); len(subs) > 0 {
			out.WriteString("  oneof subtype {\n")
			for _, sub := range subs {
				typ, err := g.fieldType(sub.Type, pbwire.MemberLevelSettings{})
				if err != nil {
					return "", err
				}
				fmt.Fprintf(&out, "    %s %s = %d;\n", typ, messageName(typ), sub.Tag)
			}
			out.WriteString("  }\n")
		}
		out.WriteString("}\n")
	default:
		fmt.Fprintf(&out, "message %s {\n", name)
		if err := g.Fields(&out, mt); err != nil {
			return "", err
		}
		out.WriteString("}\n")
	}
	return out.String(), nil
}

func (g *generator) Enum(out *bytes.Buffer, name string, mt *pbwire.MetaType) {
	type value struct {
		v    int64
		wire int32
	}
	var vals []value
	for v, w := range mt.EnumValues() {
		vals = append(vals, value{v, w})
	}
	slices.SortFunc(vals, func(a, b value) int { return cmp.Compare(a.wire, b.wire) })

	fmt.Fprintf(out, "enum %s {\n", name)
	for _, v := range vals {
		vn := fmt.Sprint(v.v)
		if v.v < 0 {
			vn = fmt.Sprintf("MINUS_%d", -v.v)
		}
		fmt.Fprintf(out, "  %s_%s = %d;\n", name, vn, v.wire)
	}
	out.WriteString("}\n")
}

// Fields writes the members of the struct type mt as message fields.
func (g *generator) Fields(out *bytes.Buffer, mt *pbwire.MetaType) error {
	for _, mm := range mt.Members() {
		if err := g.Field(out, mm); err != nil {
			return fmt.Errorf("%s: %w", mm, err)
		}
	}
	return nil
}

func (g *generator) Field(out *bytes.Buffer, mm *pbwire.MappedMember) error {
	main := mm.Main()
	l0 := mm.Level(0)
	t := mm.Member.Type
	if et, ok := l0.EffectiveType.GetOK(); ok && et != nil {
		t = et
	}

	switch {
	case t.Kind() == reflect.Map:
		key, err := g.fieldType(t.Key(), pbwire.MemberLevelSettings{})
		if err != nil {
			return err
		}
		val, err := g.elemType(t.Elem(), mm, 1)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  map<%s, %s> %s = %d;\n", key, val, main.Name, main.Tag)
		return nil
	case isList(t):
		elem, err := g.elemType(t.Elem(), mm, 1)
		if err != nil {
			return err
		}
		opts := ""
		if get(l0.Collection.Format) == pbwire.CollectionPacked && packable(derefType(t.Elem()), mm.Level(1)) {
			opts = " [packed = true]"
		}
		fmt.Fprintf(out, "  repeated %s %s = %d%s;\n", elem, main.Name, main.Tag, opts)
		return nil
	}

	typ, err := g.fieldType(t, l0)
	if err != nil {
		return err
	}
	label := "optional"
	if main.Required {
		label = "required"
	}
	opts := ""
	if main.DefaultValue != nil {
		if typ == "string" || typ == "bytes" {
			opts = fmt.Sprintf(" [default = %q]", fmt.Sprint(main.DefaultValue))
		} else {
			opts = fmt.Sprintf(" [default = %v]", main.DefaultValue)
		}
	}
	comment := ""
	if g.isGroup(t) {
		comment = " // delimited as a group"
	}
	fmt.Fprintf(out, "  %s %s %s = %d%s;%s\n", label, typ, main.Name, main.Tag, opts, comment)
	return nil
}

// elemType returns the type of the elements of a collection member
// at nesting level i. Nested collections become helper messages.
func (g *generator) elemType(t reflect.Type, mm *pbwire.MappedMember, i int) (string, error) {
	l := mm.Level(i)
	if et, ok := l.EffectiveType.GetOK(); ok && et != nil {
		t = et
	}
	if !isList(t) && t.Kind() != reflect.Map {
		return g.fieldType(t, l)
	}
	if t.Kind() == reflect.Map {
		return "", fmt.Errorf("map %s nested in a collection has no schema equivalent", t)
	}
	inner, err := g.elemType(t.Elem(), mm, i+1)
	if err != nil {
		return "", err
	}
	name := "List_" + messageName(inner)
	opts := ""
	if get(l.Collection.Format) == pbwire.CollectionPacked && packable(derefType(t.Elem()), mm.Level(i+1)) {
		opts = " [packed = true]"
	}
	g.helpers[name] = fmt.Sprintf("message %s {\n  repeated %s items = 1%s;\n}\n", name, inner, opts)
	return name, nil
}

// fieldType returns the schema type of a single value of type t.
func (g *generator) fieldType(t reflect.Type, l pbwire.MemberLevelSettings) (string, error) {
	f := get(l.Format)
	dynamic := t.Kind() == reflect.Interface && (get(l.DynamicType) || t.NumMethod() == 0)
	if dynamic {
		g.helpers["DynamicValue"] = "message DynamicValue {\n" + wrapperFields + "  extensions 10;\n}\n"
		return "DynamicValue", nil
	}
	if f == pbwire.ValueReference || f == pbwire.ValueMinimalEnhancement {
		l.Format = value.Maybe[pbwire.ValueFormat]{}
		inner, err := g.fieldType(t, l)
		if err != nil {
			return "", err
		}
		name := "Wrapped_" + messageName(inner)
		g.helpers[name] = fmt.Sprintf("message %s {\n%s  optional %s value = 10;\n}\n", name, wrapperFields, inner)
		return name, nil
	}

	t = derefType(t)
	switch {
	case t == timeType:
		g.imports.Add("google/protobuf/timestamp.proto")
		return "google.protobuf.Timestamp", nil
	case t == durationType:
		g.imports.Add("google/protobuf/duration.proto")
		return "google.protobuf.Duration", nil
	case t == uuidType:
		g.helpers["Guid"] = "message Guid {\n  optional fixed64 lo = 1;\n  optional fixed64 hi = 2;\n}\n"
		return "Guid", nil
	case isBytes(t):
		return "bytes", nil
	}
	if n, ok := g.names[t]; ok {
		return n, nil
	}

	format := get(l.ContentFormat)
	switch t.Kind() {
	case reflect.Bool:
		return "bool", nil
	case reflect.Float32:
		return "float", nil
	case reflect.Float64:
		return "double", nil
	case reflect.String:
		return "string", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bits := "64"
		if t.Size() <= 4 {
			bits = "32"
		}
		switch format {
		case pbwire.FormatZigZag:
			return "sint" + bits, nil
		case pbwire.FormatFixedSize:
			return "sfixed" + bits, nil
		}
		return "int" + bits, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		bits := "64"
		if t.Size() <= 4 {
			bits = "32"
		}
		if format == pbwire.FormatFixedSize {
			return "fixed" + bits, nil
		}
		return "uint" + bits, nil
	}
	return "", fmt.Errorf("%s has no schema equivalent", t)
}

// isGroup reports whether values of t are framed as groups.
func (g *generator) isGroup(t reflect.Type) bool {
	t = derefType(t)
	if _, ok := g.names[t]; !ok {
		return false
	}
	mt, err := g.m.MetaType(t)
	if err != nil {
		return false
	}
	pl, ok := mt.Settings().PrefixLength.GetOK()
	return ok && !pl
}

// messageName returns a schema identifier for a type name: the last
// dotted component, with characters that can't appear in identifiers
// replaced by underscores.
func messageName(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, s)
}

func packable(t reflect.Type, l pbwire.MemberLevelSettings) bool {
	if get(l.Format) == pbwire.ValueReference || get(l.Format) == pbwire.ValueMinimalEnhancement {
		return false
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isBytes(t reflect.Type) bool {
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && t.Elem().Kind() == reflect.Uint8
}

func isList(t reflect.Type) bool {
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && !isBytes(t)
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func get[T any](m value.Maybe[T]) T {
	v, _ := m.GetOK()
	return v
}
