package services

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/trustgate/internal/models"
)

const (
	defaultEventPageSize = 20
	maxEventPageSize     = 100
)

// AccountEventRepository defines the persistence needed by EventService
type AccountEventRepository interface {
	Create(ctx context.Context, e *models.AccountEvent) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.AccountEvent, int, error)
}

// EventService appends and lists account activity events
type EventService struct {
	repo   AccountEventRepository
	logger *slog.Logger
}

// NewEventService creates a new EventService
func NewEventService(repo AccountEventRepository, logger *slog.Logger) *EventService {
	return &EventService{repo: repo, logger: logger}
}

// EventInput describes one event to record
type EventInput struct {
	UserID      string
	SessionID   string
	EventType   string
	Description string
	Device      *models.DeviceFingerprint
	Extra       map[string]interface{}
}

// Record appends an event. Failures are logged and never surface to the
// caller: the activity feed is display-only.
func (s *EventService) Record(ctx context.Context, in EventInput) {
	metadata := models.NewEventMetadata(in.EventType, in.Description, in.Device)
	for k, v := range in.Extra {
		metadata[k] = v
	}

	event := &models.AccountEvent{
		UserID:    in.UserID,
		EventType: in.EventType,
		Metadata:  metadata,
	}
	if in.SessionID != "" {
		sid := in.SessionID
		event.DeviceSessionID = &sid
	}

	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.Error("failed to record account event",
			slog.String("user_id", in.UserID),
			slog.String("event_type", in.EventType),
			slog.Any("error", err))
	}
}

// List returns one page of the user's events, newest first
func (s *EventService) List(ctx context.Context, userID string, limit, offset int) (*models.EventPage, error) {
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}
	if offset < 0 {
		offset = 0
	}

	events, total, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list account events", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if events == nil {
		events = []models.AccountEvent{}
	}

	return &models.EventPage{Events: events, Total: total, Limit: limit, Offset: offset}, nil
}
