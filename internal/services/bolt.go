package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/MegaGrindStone/datachat/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the dataset Store using a BoltDB backend. It keeps the raw content of every uploaded
// file, so a dataset can be loaded again without picking the file a second time.
type BoltDB struct {
	db *bolt.DB
}

var datasetsBucket = []byte("datasets")

// ErrDatasetNotFound is returned when no dataset is stored under the requested ID.
var ErrDatasetNotFound = errors.New("dataset not found")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(datasetsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// SaveDataset stores record under a key prefixed with a sequence number, so iteration follows upload
// order. The record ID is replaced by the generated key, which is returned.
func (b BoltDB) SaveDataset(_ context.Context, record models.DatasetRecord) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(datasetsBucket)

		idPrefix, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%08d-%s", idPrefix, record.ID)
		record.ID = newID

		v, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal dataset: %w", err)
		}

		return b.Put([]byte(newID), v)
	})

	return newID, err
}

// Datasets retrieves the stored datasets, newest first, without their raw content.
func (b BoltDB) Datasets(context.Context) ([]models.DatasetRecord, error) {
	var records []models.DatasetRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(datasetsBucket).ForEach(func(_, v []byte) error {
			var record models.DatasetRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal dataset: %w", err)
			}
			record.Raw = nil
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(records)
	return records, nil
}

// Dataset retrieves a single stored dataset with its raw content.
func (b BoltDB) Dataset(_ context.Context, id string) (models.DatasetRecord, error) {
	var record models.DatasetRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(datasetsBucket).Get([]byte(id))
		if v == nil {
			return ErrDatasetNotFound
		}
		if err := json.Unmarshal(v, &record); err != nil {
			return fmt.Errorf("failed to unmarshal dataset: %w", err)
		}
		return nil
	})
	return record, err
}
