package service

import (
	"context"

	"github.com/aind-capture/metadata-agent/internal/model"
	"github.com/aind-capture/metadata-agent/internal/store"
	"github.com/aind-capture/metadata-agent/internal/validate"
	"github.com/aind-capture/metadata-agent/pkg/logger"
)

// RecordService exposes record CRUD and linking.
type RecordService struct {
	store  *store.Store
	logger *logger.Logger
}

// NewRecordService creates a new record service.
func NewRecordService(st *store.Store, log *logger.Logger) *RecordService {
	return &RecordService{store: st, logger: log}
}

// List returns records matching the filter.
func (s *RecordService) List(ctx context.Context, f model.RecordFilter) ([]model.Record, error) {
	return s.store.ListRecords(ctx, f)
}

// Get returns a record with its linked records populated.
func (s *RecordService) Get(ctx context.Context, id string) (*model.Record, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	links, err := s.store.LinkedRecords(ctx, id)
	if err != nil {
		s.logger.Warnw("failed to load links", "record_id", id, "error", err)
		links = nil
	}
	rec.Links = links
	return rec, nil
}

// Update merges data into a record and re-validates it.
func (s *RecordService) Update(ctx context.Context, id string, data map[string]any) (*model.Record, error) {
	rec, err := s.store.UpdateRecord(ctx, id, data, "")
	if err != nil {
		return nil, err
	}

	result := validate.Record(rec.RecordType, rec.Data)
	if err := s.store.SetRecordValidation(ctx, id, result.JSON()); err != nil {
		s.logger.Warnw("failed to store validation", "record_id", id, "error", err)
	}

	return s.store.GetRecord(ctx, id)
}

// Confirm marks a record as confirmed.
func (s *RecordService) Confirm(ctx context.Context, id string) (*model.Record, error) {
	return s.store.ConfirmRecord(ctx, id)
}

// Delete removes a record. Returns false if it did not exist.
func (s *RecordService) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.DeleteRecord(ctx, id)
}

// Link links two records after checking both exist.
func (s *RecordService) Link(ctx context.Context, sourceID, targetID string) error {
	if _, err := s.store.GetRecord(ctx, sourceID); err != nil {
		return err
	}
	if _, err := s.store.GetRecord(ctx, targetID); err != nil {
		return err
	}
	return s.store.LinkRecords(ctx, sourceID, targetID)
}

// Links returns the records linked to id.
func (s *RecordService) Links(ctx context.Context, id string) ([]model.Record, error) {
	if _, err := s.store.GetRecord(ctx, id); err != nil {
		return nil, err
	}
	return s.store.LinkedRecords(ctx, id)
}
