package pbwire

import (
	"context"

	"github.com/zoobzio/capitan"
)

// Signals for schema lifecycle events.
var (
	SignalTypeResolved      = capitan.NewSignal("pbwire.type.resolved", "Type configuration resolved")
	SignalSerializerBuilt   = capitan.NewSignal("pbwire.serializer.built", "Serializer assembled for a type")
	SignalSettingsFrozen    = capitan.NewSignal("pbwire.settings.frozen", "Type settings frozen on first use")
	SignalSerializerDropped = capitan.NewSignal("pbwire.serializer.dropped", "Cached serializers invalidated by a settings change")
)

// Keys for typed event data.
var (
	KeyTypeName    = capitan.NewStringKey("type_name")
	KeyMemberCount = capitan.NewIntKey("member_count")
	KeyTypeCount   = capitan.NewIntKey("type_count")
	KeyCompiled    = capitan.NewStringKey("strategy")
	KeyError       = capitan.NewErrorKey("error")
)

// emitTypeResolved emits an event when a type is added to a model.
func emitTypeResolved(ctx context.Context, typeName string, members int, err error) {
	fields := []capitan.Field{
		KeyTypeName.Field(typeName),
		KeyMemberCount.Field(members),
	}
	if err != nil {
		fields = append(fields, KeyError.Field(err))
		capitan.Error(ctx, SignalTypeResolved, fields...)
	} else {
		capitan.Emit(ctx, SignalTypeResolved, fields...)
	}
}

// emitSerializerBuilt emits an event when a serializer graph is built.
func emitSerializerBuilt(ctx context.Context, typeName string, types int, compiled bool) {
	strategy := "interpreted"
	if compiled {
		strategy = "compiled"
	}
	capitan.Emit(ctx, SignalSerializerBuilt,
		KeyTypeName.Field(typeName),
		KeyTypeCount.Field(types),
		KeyCompiled.Field(strategy),
	)
}

// emitSettingsFrozen emits an event when a type's settings freeze.
func emitSettingsFrozen(ctx context.Context, typeName string, members int) {
	capitan.Emit(ctx, SignalSettingsFrozen,
		KeyTypeName.Field(typeName),
		KeyMemberCount.Field(members),
	)
}

// emitSerializerDropped emits an event when cached serializers are
// discarded.
func emitSerializerDropped(ctx context.Context, typeName string) {
	capitan.Emit(ctx, SignalSerializerDropped,
		KeyTypeName.Field(typeName),
	)
}
