package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/trustgate/internal/models"
)

// maxExportEvents bounds the activity history included in one export
const maxExportEvents = 1000

// DataExportRepository defines persistence for export requests
type DataExportRepository interface {
	Create(ctx context.Context, req *models.DataExportRequest) error
	GetByID(ctx context.Context, id string) (*models.DataExportRequest, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id, objectKey string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// ExportSources are the read models gathered into an archive
type ExportSources struct {
	Users      UserLookup
	Identities IdentityRepository
	Factors    MFAFactorRepository
	Sessions   DeviceSessionRepository
	Events     AccountEventRepository
}

// DataExportService queues, builds and serves account data exports
type DataExportService struct {
	exports    DataExportRepository
	sources    ExportSources
	queue      ExportQueue
	storage    ObjectStorage
	email      EmailSender
	events     *EventService
	presignTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewDataExportService creates a new DataExportService
func NewDataExportService(
	exports DataExportRepository,
	sources ExportSources,
	queue ExportQueue,
	storage ObjectStorage,
	email EmailSender,
	events *EventService,
	presignTTL time.Duration,
	logger *slog.Logger,
) *DataExportService {
	return &DataExportService{
		exports:    exports,
		sources:    sources,
		queue:      queue,
		storage:    storage,
		email:      email,
		events:     events,
		presignTTL: presignTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Request records an export request and queues it for the worker
func (s *DataExportService) Request(ctx context.Context, userID, sessionID string) (*models.DataExportRequest, error) {
	req := &models.DataExportRequest{UserID: userID}
	if err := s.exports.Create(ctx, req); err != nil {
		s.logger.Error("failed to create export request", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.queue.Enqueue(ctx, req.ID); err != nil {
		s.logger.Error("failed to enqueue export", slog.String("export_id", req.ID), slog.Any("error", err))
		if mErr := s.exports.MarkFailed(ctx, req.ID, "queue unavailable"); mErr != nil {
			s.logger.Error("failed to mark export failed", slog.String("export_id", req.ID), slog.Any("error", mErr))
		}
		return nil, models.ErrInternalServer
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		SessionID:   sessionID,
		EventType:   models.EventDataExportRequested,
		Description: "Data export requested",
		Extra:       map[string]interface{}{"export_id": req.ID},
	})
	return req, nil
}

// Get returns an export owned by userID, with a download link once completed
func (s *DataExportService) Get(ctx context.Context, userID, id string) (*models.DataExportRequest, error) {
	req, err := s.exports.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load export", slog.String("export_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if req.UserID != userID {
		return nil, models.ErrNotFound
	}

	if req.Status == models.ExportStatusCompleted && req.ObjectKey != nil {
		url, err := s.storage.PresignGet(ctx, *req.ObjectKey, s.presignTTL)
		if err != nil {
			s.logger.Error("failed to presign export", slog.String("export_id", id), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		req.DownloadURL = url
	}
	return req, nil
}

// Process builds and uploads one export. Requests already claimed by
// another worker are skipped.
func (s *DataExportService) Process(ctx context.Context, id string) error {
	claimed, err := s.exports.MarkProcessing(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to claim export %s: %w", id, err)
	}
	if !claimed {
		s.logger.Info("export already claimed", slog.String("export_id", id))
		return nil
	}

	req, err := s.exports.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load export %s: %w", id, err)
	}

	key, user, err := s.build(ctx, req)
	if err != nil {
		if mErr := s.exports.MarkFailed(ctx, id, err.Error()); mErr != nil {
			s.logger.Error("failed to mark export failed", slog.String("export_id", id), slog.Any("error", mErr))
		}
		return err
	}

	if err := s.exports.MarkCompleted(ctx, id, key); err != nil {
		return fmt.Errorf("failed to complete export %s: %w", id, err)
	}

	url, err := s.storage.PresignGet(ctx, key, s.presignTTL)
	if err != nil {
		s.logger.Error("failed to presign export link", slog.String("export_id", id), slog.Any("error", err))
		return nil
	}
	if err := s.email.SendDataExportReady(ctx, user.Email, url, s.now().Add(s.presignTTL)); err != nil {
		s.logger.Warn("failed to email export link", slog.String("export_id", id), slog.Any("error", err))
	}

	s.logger.Info("data export completed", slog.String("export_id", id), slog.String("user_id", req.UserID))
	return nil
}

func (s *DataExportService) build(ctx context.Context, req *models.DataExportRequest) (string, *models.User, error) {
	archive, user, err := s.BuildArchive(ctx, req.UserID)
	if err != nil {
		return "", nil, err
	}

	body, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode export: %w", err)
	}

	key := exportKeyPrefix(req.UserID) + req.ID + ".json"
	if err := s.storage.Put(ctx, key, "application/json", bytes.NewReader(body), int64(len(body))); err != nil {
		return "", nil, err
	}
	return key, user, nil
}

// BuildArchive gathers everything held about a user. Factor secrets are
// never included.
func (s *DataExportService) BuildArchive(ctx context.Context, userID string) (*models.DataExportArchive, *models.User, error) {
	user, err := s.sources.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	identities, err := s.sources.Identities.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load identities: %w", err)
	}
	factors, err := s.sources.Factors.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load factors: %w", err)
	}
	sessions, err := s.sources.Sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	events, _, err := s.sources.Events.ListByUser(ctx, userID, maxExportEvents, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load events: %w", err)
	}

	archive := &models.DataExportArchive{
		GeneratedAt: s.now().UTC(),
		Profile:     user.ToResponse(),
		Identities:  identities,
		Factors:     make([]models.FactorResponse, 0, len(factors)),
		Sessions:    make([]models.DeviceSessionResponse, 0, len(sessions)),
		Events:      events,
	}
	for i := range factors {
		archive.Factors = append(archive.Factors, factors[i].ToResponse())
	}
	for i := range sessions {
		archive.Sessions = append(archive.Sessions, sessions[i].ToResponse(""))
	}
	if archive.Identities == nil {
		archive.Identities = []models.Identity{}
	}
	if archive.Events == nil {
		archive.Events = []models.AccountEvent{}
	}
	return archive, user, nil
}

// exportKeyPrefix is the storage prefix holding every export archive of a user
func exportKeyPrefix(userID string) string {
	return "exports/" + userID + "/"
}
