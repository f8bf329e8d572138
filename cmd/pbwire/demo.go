package main

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/danderson/pbwire"
	"github.com/danderson/pbwire/tomlconfig"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PhoneType is the kind of a phone number.
type PhoneType int32

const (
	Mobile PhoneType = iota
	Home
	Work
)

type PhoneNumber struct {
	Number string    `pb:"1,required"`
	Type   PhoneType `pb:"2,default=1"`
}

type Person struct {
	_       pbwire.Contract `pb:"name=tutorial.Person"`
	Name    string          `pb:"1,required"`
	ID      int32           `pb:"2,required"`
	Email   string          `pb:"3"`
	Phones  []PhoneNumber   `pb:"4"`
	Updated time.Time       `pb:"5"`
	Key     uuid.UUID       `pb:"6"`
	Manager *Person         `pb:"7,ref"`
}

type AddressBook struct {
	_      pbwire.Contract `pb:"name=tutorial.AddressBook"`
	People []*Person       `pb:"1"`
}

var demoTypes = []reflect.Type{
	reflect.TypeFor[AddressBook](),
	reflect.TypeFor[Person](),
	reflect.TypeFor[PhoneNumber](),
	reflect.TypeFor[PhoneType](),
}

// demoModel returns a model for the demo types, configured by the
// --config file if one was given.
func demoModel() (*pbwire.Model, error) {
	opts := []pbwire.Option{pbwire.WithLogger(logger())}
	var m *pbwire.Model
	if globalArgs.Config != "" {
		cfg, err := tomlconfig.Load(globalArgs.Config, demoTypes...)
		if err != nil {
			return nil, err
		}
		m = cfg.New(opts...)
	} else {
		m = pbwire.New(opts...)
	}

	mt, err := m.MetaType(reflect.TypeFor[PhoneType]())
	if err != nil {
		return nil, err
	}
	for _, v := range []PhoneType{Mobile, Home, Work} {
		if err := mt.AddEnumValue(v, int32(v)); err != nil {
			return nil, fmt.Errorf("registering %T value %d: %w", v, v, err)
		}
	}
	return m, nil
}

// demoValue returns an address book with a little of everything.
func demoValue() *AddressBook {
	boss := &Person{
		Name:    "Ada",
		ID:      1,
		Email:   "ada@example.com",
		Updated: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Key:     uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Phones: []PhoneNumber{
			{Number: "555-0100", Type: Work},
		},
	}
	return &AddressBook{
		People: []*Person{
			boss,
			{
				Name:    "Grace",
				ID:      2,
				Phones:  []PhoneNumber{{Number: "555-0199", Type: Mobile}},
				Manager: boss,
			},
		},
	}
}

func logger() zerolog.Logger {
	if !globalArgs.Verbose {
		return zerolog.Nop()
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("app", "pbwire").Logger().Level(zerolog.DebugLevel)
}
