// Package listener applies delegate capacity registrations published on Kafka.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/domain"
	"github.com/ramiqadoumi/delegate-rebroadcast/internal/kafka"
	"github.com/ramiqadoumi/delegate-rebroadcast/pkg/telemetry"
)

// Registrar stores a delegate's capacity.
type Registrar interface {
	RegisterCapacity(ctx context.Context, accountID, delegateID string, c domain.Capacity) error
}

// Listener consumes capacity registrations and forwards them to the registry.
type Listener struct {
	consumer  kafka.Consumer
	registrar Registrar
	logger    *slog.Logger
}

func NewListener(consumer kafka.Consumer, registrar Registrar, logger *slog.Logger) *Listener {
	return &Listener{consumer: consumer, registrar: registrar, logger: logger}
}

// Run starts consuming. Blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	return l.consumer.Subscribe(ctx, l.handle)
}

func (l *Listener) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("capacity-listener").Start(ctx, "capacity_listener.handle")
	defer span.End()

	var reg domain.CapacityRegistration
	if err := json.Unmarshal(msg.Value, &reg); err != nil {
		telemetry.CapacityRegistrationsTotal.WithLabelValues("malformed").Inc()
		span.SetStatus(codes.Error, "malformed registration")
		return fmt.Errorf("decode registration at offset %d: %w: %v", msg.Offset, kafka.ErrMalformed, err)
	}
	if err := validate(reg); err != nil {
		telemetry.CapacityRegistrationsTotal.WithLabelValues("malformed").Inc()
		span.SetStatus(codes.Error, "invalid registration")
		return err
	}

	span.SetAttributes(
		attribute.String("delegate.id", reg.DelegateID),
		attribute.String("account.id", reg.AccountID),
	)

	// Store errors are transient; the consumer retries this message in place.
	if err := l.registrar.RegisterCapacity(ctx, reg.AccountID, reg.DelegateID, reg.Capacity); err != nil {
		telemetry.CapacityRegistrationsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "register failed")
		return fmt.Errorf("register capacity for delegate %s: %w", reg.DelegateID, err)
	}

	telemetry.CapacityRegistrationsTotal.WithLabelValues("applied").Inc()
	return nil
}

func validate(reg domain.CapacityRegistration) error {
	switch {
	case reg.AccountID == "" || reg.DelegateID == "":
		return fmt.Errorf("registration without account or delegate id: %w", kafka.ErrMalformed)
	case reg.Capacity.TaskLimit < 0 || reg.Capacity.MaxBuildSlots < 0:
		return fmt.Errorf("negative capacity for delegate %s: %w", reg.DelegateID, kafka.ErrMalformed)
	}
	return nil
}
