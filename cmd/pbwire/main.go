package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/mds/heapq"
	"github.com/creachadair/mds/slice"
	"github.com/danderson/pbwire"
	"github.com/danderson/pbwire/fragments"
	"github.com/danderson/pbwire/internal/protogen"
	"github.com/danderson/pbwire/pbtest"
	"github.com/kr/pretty"
)

var globalArgs struct {
	Verbose bool   `flag:"v,Log model activity to stderr"`
	Config  string `flag:"config,TOML file configuring the demo model"`
}

var dumpArgs struct {
	Hex bool `flag:"hex,Input is hex text rather than raw bytes"`
}

var schemaArgs struct {
	Package string `flag:"package,default=tutorial,Package name of the schema"`
}

func main() {
	root := &command.C{
		Name:     "pbwire",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:     "dump",
				Usage:    "dump [file]",
				Help:     "Print the raw fields of a protobuf message read from file, or stdin.",
				SetFlags: command.Flags(flax.MustBind, &dumpArgs),
				Run:      runDump,
			},
			{
				Name:  "varint",
				Usage: "varint number...",
				Help: `Print the varint encodings of integers.

Negative numbers are shown in both their sign extended and zigzag forms.`,
				Run: runVarint,
			},
			{
				Name:  "tag",
				Usage: "tag field wiretype",
				Help: `Print the encoding of a field tag.

Wire types are varint, fixed64, bytes, start_group, end_group and fixed32.`,
				Run: command.Adapt(runTag),
			},
			{
				Name:  "types",
				Usage: "types [regexp]",
				Help:  "List the demo model's types and their members.",
				Run:   runTypes,
			},
			{
				Name:     "schema",
				Usage:    "schema [type...]",
				Help:     "Print a .proto schema for the demo types, or the named subset of them.",
				SetFlags: command.Flags(flax.MustBind, &schemaArgs),
				Run:      runSchema,
			},
			{
				Name:  "demo",
				Usage: "demo",
				Help:  "Encode a sample address book, then print its encoding and the decoded value.",
				Run:   command.Adapt(runDemo),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runDump(env *command.Env) error {
	var (
		bs  []byte
		err error
	)
	switch len(env.Args) {
	case 0:
		bs, err = io.ReadAll(os.Stdin)
	case 1:
		bs, err = os.ReadFile(env.Args[0])
	default:
		return env.Usagef("dump takes at most one argument.")
	}
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	if dumpArgs.Hex {
		bs, err = pbtest.ParseHex(string(bs))
		if err != nil {
			return fmt.Errorf("parsing hex input: %w", err)
		}
	}
	return dump(os.Stdout, bs)
}

func runVarint(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("varint requires at least one number.")
	}
	var errs []error
	for _, arg := range env.Args {
		if strings.HasPrefix(arg, "-") {
			v, err := strconv.ParseInt(arg, 0, 64)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			fmt.Printf("%d: % x (zigzag % x)\n", v, fragments.AppendVarint(nil, uint64(v)), fragments.AppendVarint(nil, fragments.ZigZagEncode64(v)))
			continue
		}
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Printf("%d: % x\n", v, fragments.AppendVarint(nil, v))
	}
	return errors.Join(errs...)
}

func runTag(env *command.Env, field, wiretype string) error {
	n, err := strconv.Atoi(field)
	if err != nil {
		return fmt.Errorf("parsing field number: %w", err)
	}
	if !fragments.ValidFieldNumber(n) {
		return fmt.Errorf("field number %d out of range [%d, %d]", n, fragments.MinFieldNumber, fragments.MaxFieldNumber)
	}
	wt, err := fragments.ParseWireType(wiretype)
	if err != nil {
		return err
	}
	fmt.Printf("% x\n", fragments.AppendTag(nil, n, wt))
	if fragments.IsReservedFieldNumber(n) {
		fmt.Printf("warning: field %d is reserved and cannot appear in a schema\n", n)
	}
	return nil
}

func runTypes(env *command.Env) error {
	filter := ""
	if len(env.Args) > 0 {
		filter = env.Args[0]
	}
	f, err := regexp.Compile(filter)
	if err != nil {
		return err
	}
	m, err := demoModel()
	if err != nil {
		return err
	}
	mts, err := m.Reachable(demoTypes...)
	if err != nil {
		return err
	}
	mts = slices.Collect(slice.Select(mts, func(mt *pbwire.MetaType) bool {
		return f.MatchString(mt.Name())
	}))

	q := heapq.New(func(a, b *pbwire.MetaType) int {
		return cmp.Compare(a.Name(), b.Name())
	})
	for _, mt := range mts {
		q.Add(mt)
	}
	out := &indenter{out: os.Stdout, indentNext: true}
	for !q.IsEmpty() {
		mt, _ := q.Pop()
		out.f("%s (%s)", mt.Name(), mt.Type)
		out.indent(1)
		for _, mm := range mt.Members() {
			main := mm.Main()
			var extra []string
			if main.Required {
				extra = append(extra, "required")
			}
			if main.DefaultValue != nil {
				extra = append(extra, fmt.Sprintf("default=%v", main.DefaultValue))
			}
			out.f("%d %s %s %s", main.Tag, main.Name, mm.Member.Type, strings.Join(extra, ","))
		}
		vals := mt.EnumValues()
		for _, v := range slices.Sorted(maps.Keys(vals)) {
			out.f("%d = %d", v, vals[v])
		}
		for _, sub := range mt.Subtypes() {
			out.f("subtype %d %s", sub.Tag, sub.Type)
		}
		out.indent(-1)
	}
	return nil
}

func runSchema(env *command.Env) error {
	m, err := demoModel()
	if err != nil {
		return err
	}
	roots := demoTypes
	if len(env.Args) > 0 {
		roots = nil
		for _, name := range env.Args {
			i := slices.IndexFunc(demoTypes, func(t reflect.Type) bool {
				return t.Name() == name || t.String() == name
			})
			if i < 0 {
				return fmt.Errorf("unknown demo type %q", name)
			}
			roots = append(roots, demoTypes[i])
		}
	}
	schema, err := protogen.Schema(m, schemaArgs.Package, roots...)
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}
	fmt.Print(schema)
	return nil
}

func runDemo(env *command.Env) error {
	m, err := demoModel()
	if err != nil {
		return err
	}
	in := demoValue()
	bs, err := m.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding demo value: %w", err)
	}
	fmt.Printf("Encoded %d bytes:\n%s\n", len(bs), pbtest.Dump(bs))
	fmt.Println("Fields:")
	if err := dump(os.Stdout, bs); err != nil {
		return err
	}

	var out AddressBook
	if err := m.Unmarshal(bs, &out); err != nil {
		return fmt.Errorf("decoding demo value: %w", err)
	}
	fmt.Printf("\nDecoded:\n%# v\n", pretty.Formatter(out))
	return nil
}
