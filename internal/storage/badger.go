package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"promoengine/internal/domain"
)

// conversionTTL bounds how long a stored outcome is served. Affiliate short
// links are long-lived upstream, but sessions and campaigns rotate, so
// entries age out rather than pinning a stale link forever.
const conversionTTL = 24 * time.Hour

// BadgerRepository implements the Repository interface using BadgerDB.
type BadgerRepository struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// NewBadgerRepository opens the database at dbPath.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	logger.WithField("path", dbPath).Info("BadgerDB opened")

	return &BadgerRepository{
		db:  db,
		log: logger.WithField("component", "repository"),
	}, nil
}

// Close closes the underlying database.
func (r *BadgerRepository) Close() error {
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	return nil
}

// conversionKey builds the unique key for one marketplace/URL pair.
// Format: conv:{marketplace}:{originalURL}
func conversionKey(marketplace, originalURL string) []byte {
	return []byte(fmt.Sprintf("conv:%s:%s", marketplace, originalURL))
}

// SaveConversion stores or overwrites the outcome for a marketplace/URL pair.
func (r *BadgerRepository) SaveConversion(ctx context.Context, conv domain.Conversion) error {
	log := r.log.WithFields(logrus.Fields{
		"marketplace": conv.Marketplace,
		"url":         conv.OriginalURL,
		"status":      conv.Status,
	})

	if conv.Timestamp.IsZero() {
		conv.Timestamp = time.Now()
	}

	data, err := json.Marshal(conv)
	if err != nil {
		log.WithError(err).Error("Failed to marshal conversion")
		return fmt.Errorf("failed to marshal conversion: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(conversionKey(conv.Marketplace, conv.OriginalURL), data).WithTTL(conversionTTL)
		return txn.SetEntry(e)
	})
	if err != nil {
		log.WithError(err).Error("Failed to save conversion")
		return fmt.Errorf("failed to save conversion: %w", err)
	}

	log.Debug("Conversion recorded")
	return nil
}

// GetConversion returns the stored outcome, or nil when the key is absent
// or its TTL has elapsed.
func (r *BadgerRepository) GetConversion(ctx context.Context, marketplace, originalURL string) (*domain.Conversion, error) {
	var conv *domain.Conversion

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(conversionKey(marketplace, originalURL))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded domain.Conversion
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("failed to unmarshal conversion for key %s: %w", string(item.Key()), err)
			}
			conv = &decoded
			return nil
		})
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to read conversion")
		return nil, fmt.Errorf("failed to get conversion for %s %s: %w", marketplace, originalURL, err)
	}
	return conv, nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{})   { l.logger.Errorf(f, v...) }
func (l *badgerLogger) Warningf(f string, v ...interface{}) { l.logger.Warningf(f, v...) }
func (l *badgerLogger) Infof(f string, v ...interface{})    { l.logger.Infof(f, v...) }
func (l *badgerLogger) Debugf(f string, v ...interface{})   { l.logger.Debugf(f, v...) }
