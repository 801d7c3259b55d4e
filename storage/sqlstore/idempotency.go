package sqlstore

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatusPending marks an idempotency key whose request is still running.
const StatusPending = 0

// LookupIdempotency returns the stored record for key, if any.
func (s *Store) LookupIdempotency(key string) (*IdempotencyKey, bool, error) {
	var rec IdempotencyKey
	err := s.db.Take(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// ReserveIdempotency inserts a pending record for rec.Key. It reports false
// when the key already exists, either pending or completed.
func (s *Store) ReserveIdempotency(rec *IdempotencyKey) (bool, error) {
	if rec.RequestID == "" {
		rec.RequestID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = StatusPending
	rec.Response = ""
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteIdempotency stores the response of a pending key. Completed keys
// are never overwritten.
func (s *Store) CompleteIdempotency(key string, status int, response string) error {
	return s.db.Model(&IdempotencyKey{}).
		Where("key = ? AND status = ?", key, StatusPending).
		Updates(map[string]any{"status": status, "response": response}).Error
}

// ReleaseIdempotency drops a pending reservation so the request can be
// retried.
func (s *Store) ReleaseIdempotency(key string) error {
	return s.db.Where("key = ? AND status = ?", key, StatusPending).Delete(&IdempotencyKey{}).Error
}
