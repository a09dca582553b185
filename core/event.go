package core

import (
	"context"
	"reflect"
	"time"
)

// Event is a fact that happened in the past, exported outside the scheduler.
type Event interface {
	EventID() string
	EventName() string
	OccurredOn() time.Time
}

type EventHandler[E Event] interface {
	Handle(ctx context.Context, event E) error
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc[E Event] func(ctx context.Context, event E) error

func (f EventHandlerFunc[E]) Handle(ctx context.Context, event E) error {
	return f(ctx, event)
}

type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(prototype Event, handler EventHandler[Event]) error
	Run(ctx context.Context) error
}

// SubscribeEvent registers a typed handler on bus.
func SubscribeEvent[E Event](bus EventBus, handler EventHandler[E]) error {
	var zero E
	val := reflect.ValueOf(zero)
	if val.Kind() == reflect.Ptr && val.IsNil() {
		val = reflect.New(val.Type().Elem())
		zero = val.Interface().(E)
	}

	return bus.Subscribe(zero, &eventHandlerWrapper[E]{handler: handler})
}

type eventHandlerWrapper[E Event] struct {
	handler EventHandler[E]
}

func (w *eventHandlerWrapper[E]) Handle(ctx context.Context, event Event) error {
	return w.handler.Handle(ctx, event.(E))
}
