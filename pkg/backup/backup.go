package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/bastionhq/bastion/pkg/backend"
	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service creates and tracks server backups. The actual archival work
// is delegated to the execution backend: the daemon archives remote
// servers, the local runtime tars its own data directories. The
// service owns the records either way.
type Service struct {
	store  storage.Store
	exec   backend.Backend
	broker *events.Broker
	logger zerolog.Logger
}

// NewService creates a backup service
func NewService(store storage.Store, exec backend.Backend, broker *events.Broker) *Service {
	return &Service{
		store:  store,
		exec:   exec,
		broker: broker,
		logger: log.WithComponent("backup"),
	}
}

// CreateBackup records a new backup and asks the backend to archive the
// server. A backend failure is written into the record's error field;
// the record is kept so operators can see the failed attempt.
func (s *Service) CreateBackup(ctx context.Context, serverID, name string) (*types.Backup, error) {
	if _, err := s.store.GetServer(serverID); err != nil {
		return nil, fmt.Errorf("failed to load server %s: %w", serverID, err)
	}

	now := time.Now()
	record := &types.Backup{
		ID:        uuid.NewString(),
		ServerID:  serverID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateBackup(record); err != nil {
		return nil, fmt.Errorf("failed to create backup record: %w", err)
	}

	if err := s.exec.Backup(ctx, serverID, record.ID); err != nil {
		record.Error = err.Error()
		record.UpdatedAt = time.Now()
		if updateErr := s.store.UpdateBackup(record); updateErr != nil {
			s.logger.Error().Err(updateErr).Str("backup_id", record.ID).Msg("failed to persist backup error")
		}
		if s.broker != nil {
			s.broker.Publish(events.New(events.EventBackupFailed, err.Error(),
				map[string]string{"backup_id": record.ID, "server_id": serverID}))
		}
		return record, fmt.Errorf("backup %s: %w", record.ID, err)
	}

	if s.broker != nil {
		s.broker.Publish(events.New(events.EventBackupCreated, name,
			map[string]string{"backup_id": record.ID, "server_id": serverID}))
	}

	s.logger.Info().
		Str("backup_id", record.ID).
		Str("server_id", serverID).
		Msg("backup started")
	return record, nil
}

// RecordCompletion stores the final size of a finished backup. Called
// when the daemon reports the archive is done.
func (s *Service) RecordCompletion(backupID string, sizeBytes int64) error {
	record, err := s.store.GetBackup(backupID)
	if err != nil {
		return fmt.Errorf("failed to load backup %s: %w", backupID, err)
	}

	record.SizeBytes = sizeBytes
	record.Error = ""
	record.UpdatedAt = time.Now()
	return s.store.UpdateBackup(record)
}

// ListBackups returns all backup records for a server
func (s *Service) ListBackups(serverID string) ([]*types.Backup, error) {
	return s.store.ListBackupsByServer(serverID)
}

// DeleteBackup removes a backup record
func (s *Service) DeleteBackup(backupID string) error {
	return s.store.DeleteBackup(backupID)
}
