package event

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Config tunes delivery of exported events.
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	PoisonTopic   string        `mapstructure:"poison_topic"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	OutputBuffer  int64         `mapstructure:"output_buffer"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		PoisonTopic:   "poison_queue",
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		OutputBuffer:  64,
	}
}

// InMemory is a core.EventBus on a watermill go channel. Handlers must be
// subscribed before Run.
type InMemory struct {
	cfg       Config
	router    *message.Router
	pubSub    *gochannel.GoChannel
	publisher message.Publisher
	logger    watermill.LoggerAdapter
}

var _ core.EventBus = (*InMemory)(nil)

func NewInMemory(cfg Config, log *zap.Logger) (*InMemory, error) {
	wlog := logger.Watermill(log)
	router, err := message.NewRouter(message.RouterConfig{}, wlog)
	if err != nil {
		return nil, errors.InfraError(errors.Wrap(err, "failed to create event router"))
	}
	// PreserveContext keeps the publisher's trace context on the message.
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		PreserveContext:     true,
		OutputChannelBuffer: cfg.OutputBuffer,
	}, wlog)
	publisher, err := TraceContextDecorator(pubSub)
	if err != nil {
		return nil, errors.InfraError(err)
	}
	return &InMemory{cfg: cfg, router: router, pubSub: pubSub, publisher: publisher, logger: wlog}, nil
}

func (b *InMemory) Use(middleware ...message.HandlerMiddleware) {
	b.router.AddMiddleware(middleware...)
}

func (b *InMemory) AddPublisherDecorator(decorators ...message.PublisherDecorator) {
	b.router.AddPublisherDecorators(decorators...)
}

func (b *InMemory) Publish(ctx context.Context, event core.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.AppError(errors.Wrap(err, "failed to encode event")).WithMetadata("event", event.EventName())
	}
	msg := message.NewMessageWithContext(ctx, watermill.NewUUID(), payload)
	if err := b.publisher.Publish(event.EventName(), msg); err != nil {
		return errors.InfraError(errors.Wrap(err, "failed to publish event")).WithMetadata("event", event.EventName())
	}
	return nil
}

// Subscribe routes every message of the prototype's event name to handler,
// decoded into a fresh value of the prototype's type.
func (b *InMemory) Subscribe(prototype core.Event, handler core.EventHandler[core.Event]) error {
	eventName := prototype.EventName()
	eventType := reflect.TypeOf(prototype)
	if eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}

	b.router.AddNoPublisherHandler(
		eventName,
		eventName,
		b.pubSub,
		func(msg *message.Message) error {
			decoded := reflect.New(eventType).Interface()
			if err := json.Unmarshal(msg.Payload, decoded); err != nil {
				return errors.AppError(errors.Wrap(err, "failed to decode event")).WithMetadata("event", eventName)
			}
			evt, ok := decoded.(core.Event)
			if !ok {
				return errors.AppError(errors.Newf("%s does not implement core.Event", eventType))
			}
			return handler.Handle(msg.Context(), evt)
		},
	)
	return nil
}

// Run blocks until ctx ends.
func (b *InMemory) Run(ctx context.Context) error {
	poisonQueue, err := middleware.PoisonQueue(b.pubSub, b.cfg.PoisonTopic)
	if err != nil {
		return errors.InfraError(err)
	}

	retry := middleware.Retry{
		MaxRetries:      b.cfg.MaxRetries,
		InitialInterval: b.cfg.RetryInterval,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Logger:          b.logger,
	}

	b.router.AddMiddleware(
		OTelMiddleware,
		poisonQueue,
		retry.Middleware,
	)
	b.AddPublisherDecorator(TraceContextDecorator)

	return b.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (b *InMemory) Running() chan struct{} {
	return b.router.Running()
}

func (b *InMemory) Close() error {
	rerr := b.router.Close()
	perr := b.pubSub.Close()
	if rerr != nil {
		return errors.InfraError(rerr)
	}
	if perr != nil {
		return errors.InfraError(perr)
	}
	return nil
}
