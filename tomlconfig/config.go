// Package tomlconfig loads pbwire model configuration from TOML
// files.
//
// A file holds model-wide options at the top level, and type and
// member configuration in tables keyed by Go type name:
//
//	strict = true
//	max_depth = 64
//
//	[types."shapes.Drawing"]
//	name = "shapes.v1.Drawing"
//
//	[types."shapes.Drawing".members.Scale]
//	tag = 4
//	format = "zigzag"
//	default = 1
//
//	[types."shapes.Shape"]
//	include = [
//	  { tag = 1, type = "shapes.Square" },
//	  { tag = 2, type = "shapes.Circle" },
//	]
//
// Settings from a file take precedence over struct tags.
package tomlconfig

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danderson/pbwire"
)

type fileConfig struct {
	Strict               bool                  `toml:"strict"`
	MaxDepth             int                   `toml:"max_depth"`
	AutoAdd              bool                  `toml:"auto_add"`
	Compile              bool                  `toml:"compile"`
	ImplicitZeroDefaults bool                  `toml:"implicit_zero_defaults"`
	Implicit             string                `toml:"implicit"`
	FirstTag             int                   `toml:"first_tag"`
	Types                map[string]typeConfig `toml:"types"`
}

type typeConfig struct {
	Name      string                  `toml:"name"`
	Group     bool                    `toml:"group"`
	Passthru  bool                    `toml:"passthru"`
	SkipCtor  bool                    `toml:"skipctor"`
	NoList    bool                    `toml:"nolist"`
	AutoTuple bool                    `toml:"autotuple"`
	Infer     bool                    `toml:"infer"`
	Implicit  string                  `toml:"implicit"`
	First     int                     `toml:"first"`
	Construct string                  `toml:"construct"`
	Include   []includeConfig         `toml:"include"`
	Members   map[string]memberConfig `toml:"members"`
}

type includeConfig struct {
	Tag  int    `toml:"tag"`
	Type string `toml:"type"`
}

type memberConfig struct {
	levelConfig
	Tag      int         `toml:"tag"`
	Name     string      `toml:"name"`
	Required bool        `toml:"required"`
	Ignore   bool        `toml:"ignore"`
	Default  any         `toml:"default"`
	Item     levelConfig `toml:"item"`
}

type levelConfig struct {
	Format       string `toml:"format"`
	Value        string `toml:"value"`
	Collection   string `toml:"collection"`
	Dynamic      bool   `toml:"dynamic"`
	Append       bool   `toml:"append"`
	Limit        int    `toml:"limit"`
	WriteDefault bool   `toml:"writedefault"`
}

// Config is model configuration loaded from a file.
type Config struct {
	// Source holds the type and member records of the file.
	Source *pbwire.MapSource
	// Options holds the model-wide settings of the file.
	Options []pbwire.Option
}

// ModelOptions returns options that configure a model with c. The
// file's records are consulted before struct tags.
func (c *Config) ModelOptions() []pbwire.Option {
	ret := slices.Clone(c.Options)
	return append(ret, pbwire.WithSources(c.Source, pbwire.TagSource{}))
}

// New returns a model configured by c and opts. Options in opts are
// applied after the file's.
func (c *Config) New(opts ...pbwire.Option) *pbwire.Model {
	return pbwire.New(append(c.ModelOptions(), opts...)...)
}

// Load reads the TOML file at path. Types in the file are named by
// their Go name, as printed by reflect.Type.String, and must be one
// of types.
func Load(path string, types ...reflect.Type) (*Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load pbwire config: %w", err)
	}
	return build(raw, meta, types)
}

// Parse is like [Load], but reads the configuration from s.
func Parse(s string, types ...reflect.Type) (*Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(s, &raw)
	if err != nil {
		return nil, fmt.Errorf("parse pbwire config: %w", err)
	}
	return build(raw, meta, types)
}

type loader struct {
	meta  toml.MetaData
	types map[string]reflect.Type
	errs  []error
}

func (l *loader) failf(format string, args ...any) {
	l.errs = append(l.errs, fmt.Errorf(format, args...))
}

func (l *loader) lookup(name string) reflect.Type {
	t, ok := l.types[name]
	if !ok {
		l.failf("unknown type %q", name)
	}
	return t
}

func build(raw fileConfig, meta toml.MetaData, types []reflect.Type) (*Config, error) {
	if und := meta.Undecoded(); len(und) > 0 {
		keys := make([]string, 0, len(und))
		for _, k := range und {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	l := &loader{
		meta:  meta,
		types: map[string]reflect.Type{},
	}
	for _, t := range types {
		l.types[t.String()] = t
	}

	ret := &Config{Source: &pbwire.MapSource{}}
	if meta.IsDefined("strict") {
		ret.Options = append(ret.Options, pbwire.WithStrict(raw.Strict))
	}
	if meta.IsDefined("max_depth") {
		if raw.MaxDepth <= 0 {
			l.failf("max_depth must be positive, got %d", raw.MaxDepth)
		}
		ret.Options = append(ret.Options, pbwire.WithMaxDepth(raw.MaxDepth))
	}
	if meta.IsDefined("auto_add") {
		ret.Options = append(ret.Options, pbwire.WithAutoAdd(raw.AutoAdd))
	}
	if meta.IsDefined("compile") {
		ret.Options = append(ret.Options, pbwire.WithCompile(raw.Compile))
	}
	if meta.IsDefined("implicit_zero_defaults") {
		ret.Options = append(ret.Options, pbwire.WithImplicitZeroDefaults(raw.ImplicitZeroDefaults))
	}
	if meta.IsDefined("implicit") || meta.IsDefined("first_tag") {
		mode, err := pbwire.ParseImplicitFields(raw.Implicit)
		if err != nil {
			l.failf("implicit: %w", err)
		}
		ret.Options = append(ret.Options, pbwire.WithImplicitFields(mode, raw.FirstTag))
	}

	for _, name := range slices.Sorted(maps.Keys(raw.Types)) {
		t := l.lookup(name)
		if t == nil {
			continue
		}
		tc := raw.Types[name]
		if rec, ok := l.contract(name, tc); ok {
			ret.Source.AddType(t, rec)
		}
		for _, inc := range tc.Include {
			if st := l.lookup(inc.Type); st != nil {
				ret.Source.AddType(t, pbwire.Record{Dialect: pbwire.KindInclude, Values: map[string]any{
					pbwire.KeyTag:  inc.Tag,
					pbwire.KeyType: st,
				}})
			}
		}
		for _, mname := range slices.Sorted(maps.Keys(tc.Members)) {
			if !hasField(t, mname) {
				l.failf("type %s has no member %q", name, mname)
				continue
			}
			ret.Source.AddMember(t, mname, l.member(name, mname, tc.Members[mname])...)
		}
	}
	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}
	return ret, nil
}

// contract returns the type record for the type named name, if the
// file configures any type-wide settings.
func (l *loader) contract(name string, tc typeConfig) (pbwire.Record, bool) {
	vals := map[string]any{}
	def := func(key string) bool { return l.meta.IsDefined("types", name, key) }
	if def("name") {
		vals[pbwire.KeyName] = tc.Name
	}
	if def("group") {
		vals[pbwire.KeyPrefixLength] = !tc.Group
	}
	if def("passthru") {
		vals[pbwire.KeyEnumPassthru] = tc.Passthru
	}
	if def("skipctor") {
		vals[pbwire.KeySkipConstructor] = tc.SkipCtor
	}
	if def("nolist") {
		vals[pbwire.KeyIgnoreListHandling] = tc.NoList
	}
	if def("autotuple") {
		vals[pbwire.KeyAutoTuple] = tc.AutoTuple
	}
	if def("infer") {
		vals[pbwire.KeyInferTagFromName] = tc.Infer
	}
	if def("implicit") {
		mode, err := pbwire.ParseImplicitFields(tc.Implicit)
		if err != nil {
			l.failf("types.%s.implicit: %w", name, err)
		}
		vals[pbwire.KeyImplicitFields] = mode
	}
	if def("first") {
		vals[pbwire.KeyImplicitFirstTag] = tc.First
	}
	if def("construct") {
		if ct := l.lookup(tc.Construct); ct != nil {
			vals[pbwire.KeyConstructType] = ct
		}
	}
	if len(vals) == 0 {
		return pbwire.Record{}, false
	}
	return pbwire.Record{Dialect: pbwire.KindContract, Values: vals}, true
}

// member returns the records for one member table.
func (l *loader) member(tname, mname string, mc memberConfig) []pbwire.Attribute {
	path := []string{"types", tname, "members", mname}
	def := func(keys ...string) bool { return l.meta.IsDefined(append(path, keys...)...) }

	if def("ignore") && mc.Ignore {
		return []pbwire.Attribute{pbwire.Record{Dialect: pbwire.KindNative, Values: map[string]any{pbwire.KeyIgnore: true}}}
	}

	vals := l.level(path, mc.levelConfig)
	if def("tag") {
		vals[pbwire.KeyTag] = mc.Tag
	}
	if def("name") {
		vals[pbwire.KeyName] = mc.Name
	}
	if def("required") {
		vals[pbwire.KeyRequired] = mc.Required
	}
	if def("default") {
		vals[pbwire.KeyDefault] = defaultValue(mc.Default)
	}
	ret := []pbwire.Attribute{pbwire.Record{Dialect: pbwire.KindNative, Values: vals}}

	if def("item") {
		item := l.level(append(path, "item"), mc.Item)
		item[pbwire.KeyLevel] = 1
		ret = append(ret, pbwire.Record{Dialect: pbwire.KindNative, Values: item})
	}
	return ret
}

// level returns the record values of the level settings in the table
// at path.
func (l *loader) level(path []string, lc levelConfig) map[string]any {
	def := func(key string) bool {
		return l.meta.IsDefined(append(slices.Clone(path), key)...)
	}
	at := strings.Join(path, ".")
	vals := map[string]any{}
	if def("format") {
		f, err := pbwire.ParseDataFormat(lc.Format)
		if err != nil {
			l.failf("%s.format: %w", at, err)
		}
		vals[pbwire.KeyDataFormat] = f
	}
	if def("value") {
		f, err := pbwire.ParseValueFormat(lc.Value)
		if err != nil {
			l.failf("%s.value: %w", at, err)
		}
		vals[pbwire.KeyValueFormat] = f
	}
	if def("collection") {
		f, err := pbwire.ParseCollectionFormat(lc.Collection)
		if err != nil {
			l.failf("%s.collection: %w", at, err)
		}
		vals[pbwire.KeyCollectionFormat] = f
	}
	if def("dynamic") {
		vals[pbwire.KeyDynamicType] = lc.Dynamic
	}
	if def("append") {
		vals[pbwire.KeyAppend] = lc.Append
	}
	if def("limit") {
		if lc.Limit < 0 {
			l.failf("%s.limit must not be negative, got %d", at, lc.Limit)
		}
		vals[pbwire.KeyLengthLimit] = lc.Limit
	}
	if def("writedefault") {
		vals[pbwire.KeyLegacyDefaults] = !lc.WriteDefault
	}
	return vals
}

func hasField(t reflect.Type, name string) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	_, ok := t.FieldByName(name)
	return ok
}

// defaultValue converts a decoded TOML value to the string form that
// member defaults are parsed from.
func defaultValue(v any) any {
	switch v.(type) {
	case string:
		return v
	case int64, float64, bool:
		return fmt.Sprint(v)
	}
	return v
}
