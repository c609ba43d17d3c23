package events

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sinkTimeout = 10 * time.Second

// dispatchActor fans each event out to the sinks. Sink failures are logged
// and never reach the publisher.
type dispatchActor struct {
	sinks  []Sink
	logger *zap.Logger
}

func (a *dispatchActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *Event:
		for _, sink := range a.sinks {
			a.deliver(sink, msg)
		}

	case *actor.Started:
		a.logger.Info("Event dispatcher started", zap.Int("sinks", len(a.sinks)))

	case *actor.Stopped:
		a.logger.Info("Event dispatcher stopped")
	}
}

func (a *dispatchActor) deliver(sink Sink, ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := sink.Handle(ctx, *ev); err != nil {
		a.logger.Error("Failed to deliver event",
			zap.String("sink", sink.Name()),
			zap.String("type", ev.Type),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
	}
}

type Dispatcher struct {
	system *actor.ActorSystem
	pid    *actor.PID
	now    func() time.Time
	logger *zap.Logger
}

func NewDispatcher(logger *zap.Logger, sinks ...Sink) (*Dispatcher, error) {
	system := actor.NewActorSystem()

	props := actor.PropsFromProducer(func() actor.Actor {
		return &dispatchActor{sinks: sinks, logger: logger.Named("event-actor")}
	})
	pid, err := system.Root.SpawnNamed(props, "order-events")
	if err != nil {
		return nil, fmt.Errorf("failed to spawn event actor: %w", err)
	}

	return &Dispatcher{system: system, pid: pid, now: time.Now, logger: logger}, nil
}

// Publish stamps the event with an id and time when missing and queues it.
func (d *Dispatcher) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = d.now()
	}
	d.system.Root.Send(d.pid, &ev)
}

// Close delivers the events already queued, then stops the actor system.
func (d *Dispatcher) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.system.Root.PoisonFuture(d.pid).Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("event dispatcher did not drain: %w", ctx.Err())
	}
	d.system.Shutdown()
	return err
}
