package store

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

const (
	// FingerprintDBFilename is the bbolt file inside the data directory.
	FingerprintDBFilename = "fingerprints.db"

	metadataBucket     = "metadata"
	fingerprintsBucket = "fingerprints"
	versionKey         = "version"

	fingerprintDBVersion = 0
)

// fingerprintEntry is the CBOR value stored per record.
type fingerprintEntry struct {
	Fingerprint string `cbor:"1,keyasint"`
	Account     string `cbor:"2,keyasint"`
	Username    string `cbor:"3,keyasint"`
	Protocol    string `cbor:"4,keyasint"`
	Active      bool   `cbor:"5,keyasint,omitempty"`
	Verified    bool   `cbor:"6,keyasint,omitempty"`
}

// FingerprintDB persists fingerprint records in a bbolt database.
type FingerprintDB struct {
	db *bolt.DB
}

// OpenFingerprintDB creates or loads the database at path.
func OpenFingerprintDB(path string) (*FingerprintDB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(fingerprintsBucket)); err != nil {
			return err
		}
		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != fingerprintDBVersion {
				return fmt.Errorf("fingerprint db: incompatible version: %v", b)
			}
			return nil
		}
		return meta.Put([]byte(versionKey), []byte{fingerprintDBVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &FingerprintDB{db: db}, nil
}

// recordKey orders records by account, username, protocol, fingerprint.
func recordKey(rec types.FingerprintRecord) []byte {
	var b bytes.Buffer
	for _, s := range []string{rec.Account, rec.Username, rec.Protocol, string(rec.Fingerprint)} {
		b.WriteString(s)
		b.WriteByte(0)
	}
	return b.Bytes()
}

// LoadFingerprints returns every stored record.
func (d *FingerprintDB) LoadFingerprints() ([]types.FingerprintRecord, error) {
	var out []types.FingerprintRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(fingerprintsBucket)).ForEach(func(k, v []byte) error {
			var e fingerprintEntry
			if err := cbor.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("fingerprint db: record %q: %w", k, err)
			}
			out = append(out, types.FingerprintRecord{
				Fingerprint: types.Fingerprint(e.Fingerprint),
				Account:     e.Account,
				Username:    e.Username,
				Protocol:    e.Protocol,
				Active:      e.Active,
				Verified:    e.Verified,
			})
			return nil
		})
	})
	return out, err
}

// SaveFingerprint inserts or replaces rec.
func (d *FingerprintDB) SaveFingerprint(rec types.FingerprintRecord) error {
	v, err := cbor.Marshal(fingerprintEntry{
		Fingerprint: string(rec.Fingerprint),
		Account:     rec.Account,
		Username:    rec.Username,
		Protocol:    rec.Protocol,
		Active:      rec.Active,
		Verified:    rec.Verified,
	})
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(fingerprintsBucket)).Put(recordKey(rec), v)
	})
}

// DeleteFingerprint removes rec. Removing a missing record is not an error.
func (d *FingerprintDB) DeleteFingerprint(rec types.FingerprintRecord) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(fingerprintsBucket)).Delete(recordKey(rec))
	})
}

// Close flushes and closes the database.
func (d *FingerprintDB) Close() error {
	if err := d.db.Sync(); err != nil {
		d.db.Close()
		return err
	}
	return d.db.Close()
}

var _ domain.FingerprintStore = (*FingerprintDB)(nil)
