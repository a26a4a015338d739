// Package record handles commands for listings, users and locations.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/application/eventsourcing"
	"github.com/lllypuk/estately/internal/domain/errs"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/domain/record"
	"github.com/lllypuk/estately/internal/domain/uuid"
)

const maxFields = 200

// Service runs record commands through one command handler per kind.
type Service struct {
	handlers map[record.Kind]*eventsourcing.CommandHandler[record.State]
	logger   *slog.Logger
}

// NewService creates the service. opts are applied to every kind's handler.
func NewService(store appcore.EventStore, logger *slog.Logger, opts ...eventsourcing.Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	handlers := make(map[record.Kind]*eventsourcing.CommandHandler[record.State])
	for _, kind := range record.Kinds() {
		handlers[kind] = eventsourcing.NewCommandHandler[record.State](store, record.NewDefinition(kind), opts...)
	}
	return &Service{handlers: handlers, logger: logger}
}

// Projectors returns the per-kind projectors for wiring read paths.
func (s *Service) Projectors() map[record.Kind]*eventsourcing.Projector[record.State] {
	out := make(map[record.Kind]*eventsourcing.Projector[record.State], len(s.handlers))
	for kind, h := range s.handlers {
		out[kind] = h.Projector()
	}
	return out
}

// Create создает запись
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (Result, error) {
	h, err := s.handler(cmd.Kind)
	if err != nil {
		return Result{}, err
	}
	if len(cmd.Fields) > maxFields {
		return Result{}, appcore.NewValidationError("fields", fmt.Sprintf("at most %d fields", maxFields))
	}
	if cmd.ParentID != "" {
		if err := s.checkParent(ctx, cmd.ParentID); err != nil {
			return Result{}, err
		}
	}

	id := cmd.ID
	if id == "" {
		id = uuid.NewSortable().String()
	}

	return s.execute(ctx, h, cmd.Kind, id, func(agg *record.Aggregate, meta event.Metadata) error {
		return agg.Create(cmd.Fields, cmd.ParentID, meta)
	})
}

// Update применяет патч к полям записи
func (s *Service) Update(ctx context.Context, cmd UpdateCommand) (Result, error) {
	h, err := s.handler(cmd.Kind)
	if err != nil {
		return Result{}, err
	}
	if err := appcore.ValidateRequired("id", cmd.ID); err != nil {
		return Result{}, err
	}

	return s.execute(ctx, h, cmd.Kind, cmd.ID, func(agg *record.Aggregate, meta event.Metadata) error {
		return agg.Update(cmd.Patch, meta)
	})
}

// Archive архивирует запись
func (s *Service) Archive(ctx context.Context, cmd ArchiveCommand) (Result, error) {
	h, err := s.handler(cmd.Kind)
	if err != nil {
		return Result{}, err
	}
	if err := appcore.ValidateRequired("id", cmd.ID); err != nil {
		return Result{}, err
	}

	return s.execute(ctx, h, cmd.Kind, cmd.ID, func(agg *record.Aggregate, meta event.Metadata) error {
		return agg.Archive(cmd.Reason, meta)
	})
}

func (s *Service) execute(
	ctx context.Context,
	h *eventsourcing.CommandHandler[record.State],
	kind record.Kind,
	id string,
	command func(agg *record.Aggregate, meta event.Metadata) error,
) (Result, error) {
	outcome, err := h.Execute(ctx, id, func(snap eventsourcing.Snapshot[record.State]) ([]event.DomainEvent, error) {
		agg := record.NewAggregate(kind, snap.State, snap.Version)
		if err := command(agg, appcore.MetadataFromContext(ctx).WithSource("records")); err != nil {
			return nil, err
		}
		return agg.UncommittedEvents(), nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return Result{}, appcore.NewNotFoundError(kind.String(), id)
		}
		return Result{}, err
	}

	if outcome.Changed() {
		s.logger.DebugContext(ctx, "record changed",
			slog.String("kind", kind.String()),
			slog.String("id", id),
			slog.Int("version", outcome.Snapshot.Version),
		)
	}
	return Result{Record: outcome.Snapshot.State, Version: outcome.Snapshot.Version, Changed: outcome.Changed()}, nil
}

func (s *Service) checkParent(ctx context.Context, parentID string) error {
	parent, err := s.handlers[record.KindLocation].Projector().Project(ctx, parentID)
	if errors.Is(err, appcore.ErrAggregateNotFound) {
		return appcore.NewValidationError("parentId", "parent location does not exist")
	}
	if err != nil {
		return err
	}
	if parent.State.Archived {
		return appcore.NewValidationError("parentId", "parent location is archived")
	}
	return nil
}

func (s *Service) handler(kind record.Kind) (*eventsourcing.CommandHandler[record.State], error) {
	h, ok := s.handlers[kind]
	if !ok {
		return nil, appcore.NewValidationError("kind", "unknown record kind")
	}
	return h, nil
}
