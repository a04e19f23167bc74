package claim

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	claimsBucketName      = "claims"
	fingerprintBucketName = "fingerprints"
)

// DB defines the interface for claim record storage
type DB interface {
	// SaveClaim stores a record, replacing any with the same claim ID
	SaveClaim(record *ClaimRecord) error

	// GetClaim retrieves a record by claim ID
	GetClaim(id string) (*ClaimRecord, error)

	// ListClaims returns all records
	ListClaims() ([]*ClaimRecord, error)

	// Close closes the database connection
	Close() error
}

// BoltDB stores claim records and accepted fingerprints in one bbolt file.
// It implements both DB and DuplicateIndex.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{claimsBucketName, fingerprintBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveClaim(record *ClaimRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling claim: %w", err)
		}
		return tx.Bucket([]byte(claimsBucketName)).Put([]byte(record.Claim.ID), data)
	})
}

func (b *BoltDB) GetClaim(id string) (*ClaimRecord, error) {
	var record *ClaimRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(claimsBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrClaimNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (b *BoltDB) ListClaims() ([]*ClaimRecord, error) {
	records := make([]*ClaimRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(claimsBucketName)).ForEach(func(k, v []byte) error {
			var record ClaimRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling claim %s: %w", k, err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (b *BoltDB) Contains(fp Fingerprint) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(fingerprintBucketName)).Get(fp[:]) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reading fingerprint: %w", err)
	}
	return found, nil
}

func (b *BoltDB) Record(fp Fingerprint) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(fingerprintBucketName)).Put(fp[:], []byte{1})
	})
	if err != nil {
		return fmt.Errorf("recording fingerprint: %w", err)
	}
	return nil
}

// CheckAndRecord runs inside a single write transaction; bbolt allows only
// one writer at a time, so concurrent callers for the same fingerprint see
// exactly one absent result.
func (b *BoltDB) CheckAndRecord(fp Fingerprint, record bool) (bool, error) {
	var absent bool
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(fingerprintBucketName))
		if bucket.Get(fp[:]) != nil {
			return nil
		}
		absent = true
		if !record {
			return nil
		}
		return bucket.Put(fp[:], []byte{1})
	})
	if err != nil {
		return false, fmt.Errorf("checking fingerprint: %w", err)
	}
	return absent, nil
}

func (b *BoltDB) Forget(fp Fingerprint) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(fingerprintBucketName)).Delete(fp[:])
	})
	if err != nil {
		return fmt.Errorf("forgetting fingerprint: %w", err)
	}
	return nil
}

// FingerprintCount returns the number of recorded fingerprints
func (b *BoltDB) FingerprintCount() (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(fingerprintBucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
