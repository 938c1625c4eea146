// Package collab implements the real-time form sync protocol: share token
// authentication, join and update handling, and the update pipeline that
// validates, persists, and broadcasts field changes.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tyrowin/formsync/internal/form"
	"github.com/Tyrowin/formsync/internal/metrics"
	"github.com/Tyrowin/formsync/internal/room"
	"github.com/Tyrowin/formsync/internal/store"
)

// TracerName is the instrumentation name of the sync pipeline spans.
const TracerName = "github.com/Tyrowin/formsync/internal/collab"

// DefaultUnknownUser attributes updates from connections that never joined.
const DefaultUnknownUser = "Unknown User"

// Gateway is the persistence the sync path depends on.
type Gateway interface {
	ResolveForm(ctx context.Context, shareToken string) (string, error)
	GetField(ctx context.Context, formID, fieldID string) (form.Field, error)
	MergeResponse(ctx context.Context, formID, fieldID string, value any) error
}

// Service authenticates connections and runs the update pipeline against a
// shared room registry.
type Service struct {
	gateway Gateway
	rooms   *room.Registry
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	unknownUser      string
	terminateOnError bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records update outcomes and terminations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithUnknownUserLabel sets the updated_by label used for connections that
// have not joined.
func WithUnknownUserLabel(label string) Option {
	return func(s *Service) {
		if label != "" {
			s.unknownUser = label
		}
	}
}

// WithTerminateOnError controls whether lookup and validation errors on an
// update close the connection (the default) or are answered with an error
// message to the sender.
func WithTerminateOnError(terminate bool) Option {
	return func(s *Service) { s.terminateOnError = terminate }
}

// NewService returns a Service persisting through gw and broadcasting
// through rooms.
func NewService(gw Gateway, rooms *room.Registry, opts ...Option) *Service {
	s := &Service{
		gateway:          gw,
		rooms:            rooms,
		logger:           slog.New(slog.DiscardHandler),
		tracer:           otel.Tracer(TracerName),
		unknownUser:      DefaultUnknownUser,
		terminateOnError: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rooms returns the registry the service broadcasts through.
func (s *Service) Rooms() *room.Registry {
	return s.rooms
}

// ValidToken reports whether token is syntactically usable: present, not
// blank, and not the "null" placeholder some clients send.
func ValidToken(token string) bool {
	t := strings.TrimSpace(token)
	return t != "" && !strings.EqualFold(t, "null")
}

// Authenticate resolves a handshake share token to its form id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if !ValidToken(token) {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}

	formID, err := s.gateway.ResolveForm(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, ErrUnknownForm)
	}
	if err != nil {
		return "", fmt.Errorf("resolving share token: %w", err)
	}
	return formID, nil
}

// ApplyUpdate validates value against the field's current metadata,
// persists it, and broadcasts the change to every member of the room,
// the sender included. Nothing is broadcast unless persistence succeeded.
func (s *Service) ApplyUpdate(ctx context.Context, token, connID, fieldID string, value any) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "collab.ApplyUpdate", trace.WithAttributes(
		attribute.String("formsync.field_id", fieldID),
		attribute.String("formsync.conn_id", connID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Kind(err))
		}
		span.End()
		if s.metrics != nil {
			s.metrics.Updates.WithLabelValues(Kind(err)).Inc()
			s.metrics.UpdateDuration.Observe(time.Since(start).Seconds())
		}
	}()

	formID, err := s.gateway.ResolveForm(ctx, token)
	if err != nil {
		return classify(err, ErrUnknownForm, "resolving share token")
	}
	span.SetAttributes(attribute.String("formsync.form_id", formID))

	field, err := s.gateway.GetField(ctx, formID, fieldID)
	if err != nil {
		return classify(err, ErrFieldNotFound, "reading field "+fieldID)
	}

	canonical, err := form.Validate(field, value)
	if err != nil {
		return err
	}

	if err := s.gateway.MergeResponse(ctx, formID, fieldID, canonical); err != nil {
		return classify(err, ErrUnknownForm, "persisting field "+fieldID)
	}

	updatedBy, ok := s.rooms.DisplayName(token, connID)
	if !ok {
		s.logger.Warn("update from connection without display name",
			"conn_id", connID,
			"share_token", token,
		)
		updatedBy = s.unknownUser
	}

	payload, err := EncodeUpdate(UpdateMessage{FieldID: fieldID, Value: canonical, UpdatedBy: updatedBy})
	if err != nil {
		return fmt.Errorf("encoding update for field %s: %w", fieldID, err)
	}

	s.logger.Info("field updated",
		"form_id", formID,
		"field_id", fieldID,
		"updated_by", updatedBy,
	)
	n := s.rooms.Broadcast(token, payload)
	span.SetAttributes(attribute.Int("formsync.delivered", n))
	return nil
}

func classify(err, notFound error, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", notFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) terminated(reason error) {
	if s.metrics != nil {
		s.metrics.Terminations.WithLabelValues(Kind(reason)).Inc()
	}
}
