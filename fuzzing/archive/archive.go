// Package archive persists failure replay records so failing sequences can be re-executed
// without re-running the campaign which produced them.
package archive

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/halcyon-fuzz/halcyon/scenario"
	"github.com/halcyon-fuzz/halcyon/utils"
	"go.etcd.io/bbolt"
)

// recordsBucket is the bucket all replay records are stored under.
var recordsBucket = []byte("failures")

// ErrRecordNotFound indicates no replay record exists under the requested key.
var ErrRecordNotFound = errors.New("no failure record exists under the provided key")

// Archive stores encoded failure replay records in a bolt database on disk. It is safe for
// concurrent use by multiple campaign workers.
type Archive struct {
	// db describes the underlying bolt database.
	db *bbolt.DB
}

// Open opens (creating if needed) the failure archive in the provided directory.
func Open(directory string) (*Archive, error) {
	if err := utils.MakeDirectory(directory); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(directory, "failures.db"), 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open failure archive: %v", err)
	}

	// Create the records bucket if it doesn't exist.
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Key computes the archive key one failure record is stored under.
func Key(runID string, record *scenario.ReplayRecord) string {
	return fmt.Sprintf("%s/%s/%d", runID, record.ScenarioName, record.SequenceIndex)
}

// Save persists a replay record under the provided campaign run identifier and returns the key
// it was stored under.
func (a *Archive) Save(runID string, record *scenario.ReplayRecord) (string, error) {
	encoded, err := record.Encode()
	if err != nil {
		return "", err
	}
	key := Key(runID, record)
	err = a.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).Put([]byte(key), encoded)
	})
	if err != nil {
		return "", fmt.Errorf("could not persist failure record: %v", err)
	}
	return key, nil
}

// Load retrieves the replay record stored under the provided key. Returns ErrRecordNotFound if
// no record exists under it.
func (a *Archive) Load(key string) (*scenario.ReplayRecord, error) {
	var encoded []byte
	err := a.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(recordsBucket).Get([]byte(key)); data != nil {
			encoded = make([]byte, len(data))
			copy(encoded, data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if encoded == nil {
		return nil, ErrRecordNotFound
	}
	return scenario.DecodeReplayRecord(encoded)
}

// Keys lists the keys of all persisted failure records, in key order.
func (a *Archive) Keys() ([]string, error) {
	var keys []string
	err := a.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k []byte, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
