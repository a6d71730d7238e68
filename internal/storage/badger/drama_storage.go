package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ErrNotFound is returned when a looked-up entity does not exist
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable wraps write failures. A store failure is fatal to the
// job at the storing stage.
var ErrStoreUnavailable = errors.New("store unavailable")

// DramaStorage implements the DramaStorage interface for Badger
type DramaStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDramaStorage creates a new DramaStorage instance
func NewDramaStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DramaStorage {
	return &DramaStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertDramas writes records keyed by dedup key. CreatedAt survives
// updates; UpdatedAt is stamped on every write.
func (s *DramaStorage) UpsertDramas(ctx context.Context, records []models.DramaRecord) (int, error) {
	now := time.Now().UTC()
	written := 0

	for i := range records {
		record := records[i]
		if record.Key == "" {
			s.logger.Warn().Str("title", record.Title).Msg("Skipping record without dedup key")
			continue
		}

		var existing models.DramaRecord
		err := s.db.Store().Get(record.Key, &existing)
		switch {
		case err == nil:
			record.CreatedAt = existing.CreatedAt
		case err == badgerhold.ErrNotFound:
			record.CreatedAt = now
		default:
			return written, fmt.Errorf("failed to read drama %s: %v: %w", record.Key, err, ErrStoreUnavailable)
		}
		record.UpdatedAt = now

		if err := s.db.Store().Upsert(record.Key, &record); err != nil {
			return written, fmt.Errorf("failed to upsert drama %s: %v: %w", record.Key, err, ErrStoreUnavailable)
		}
		written++
	}

	s.logger.Debug().Int("written", written).Int("offered", len(records)).Msg("Upserted drama records")
	return written, nil
}

// GetDrama returns one record by dedup key
func (s *DramaStorage) GetDrama(ctx context.Context, key string) (*models.DramaRecord, error) {
	var record models.DramaRecord
	if err := s.db.Store().Get(key, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("drama %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get drama %s: %w", key, err)
	}
	return &record, nil
}

// ListDramas returns records ordered by UpdatedAt descending
func (s *DramaStorage) ListDramas(ctx context.Context, limit, offset int) ([]models.DramaRecord, error) {
	query := badgerhold.Where("Key").Ne("").SortBy("UpdatedAt").Reverse()
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.DramaRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list dramas: %w", err)
	}
	return records, nil
}

// CountDramas returns the total number of stored records
func (s *DramaStorage) CountDramas(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.DramaRecord{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count dramas: %w", err)
	}
	return int(count), nil
}
