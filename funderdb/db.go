// Package funderdb stores a funder's durable state: an append-only log of
// serialized mutations segmented by a monotonic index, plus an occasional
// full-state snapshot. Recovery loads the latest snapshot and replays every
// mutation with a higher index.
package funderdb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

const (
	dbName           = "funder.db"
	dbFilePermission = 0600
)

var (
	// mutationBucket holds the mutation log keyed by 8 byte big endian
	// index.
	mutationBucket = []byte("mutation-log")

	// snapshotBucket holds the latest full state snapshot and the log
	// index it covers.
	snapshotBucket = []byte("snapshot")

	// metaBucket holds database meta information.
	metaBucket = []byte("meta")

	// dbVersionKey, snapshotStateKey and snapshotIndexKey are the keys
	// used within the buckets above.
	dbVersionKey     = []byte("db-version")
	snapshotStateKey = []byte("state")
	snapshotIndexKey = []byte("index")

	// Big endian is the preferred byte order, due to cursor scans over
	// integer keys iterating in order.
	byteOrder = binary.BigEndian
)

// migration is a function which takes a prior outdated version of the
// database instance and mutates the key/bucket structure to arrive at a
// more up-to-date version.
type migration func(tx *bolt.Tx) error

type version struct {
	number    uint32
	migration migration
}

// dbVersions stores all versions of the database. If the current version
// of the database doesn't match the latest version this list is used for
// retrieving all migrations that need to be applied.
var dbVersions = []version{
	{
		// The base DB version requires no migration.
		number:    0,
		migration: nil,
	},
}

// DB is the primary datastore of a funder node.
type DB struct {
	*bolt.DB
	dbPath string
}

// Open opens an existing funderdb, creating a fresh one when the target
// path does not exist yet. Any necessary schema migrations due to updates
// will take place as necessary.
func Open(dbPath string) (*DB, error) {
	path := filepath.Join(dbPath, dbName)

	if !fileExists(path) {
		if err := createFunderDB(dbPath); err != nil {
			return nil, err
		}
	}

	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	db := &DB{
		DB:     bdb,
		dbPath: dbPath,
	}

	// Synchronize the version of database and apply migrations if
	// needed.
	if err := db.syncVersions(dbVersions); err != nil {
		bdb.Close()
		return nil, err
	}

	return db, nil
}

// createFunderDB creates and initializes a fresh version of funderdb. In
// the case that the target path has not yet been created or doesn't yet
// exist, then the path is created. Additionally, all required top-level
// buckets used within the database are created.
func createFunderDB(dbPath string) error {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return err
		}
	}

	path := filepath.Join(dbPath, dbName)
	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return err
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucket(mutationBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(snapshotBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucket(metaBucket)
		if err != nil {
			return err
		}

		var scratch [4]byte
		byteOrder.PutUint32(scratch[:], getLatestDBVersion(dbVersions))
		return meta.Put(dbVersionKey, scratch[:])
	})
	if err != nil {
		return fmt.Errorf("unable to create new funderdb: %v", err)
	}

	return bdb.Close()
}

// fileExists returns true if the file exists, and false otherwise.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// Wipe completely deletes all saved state within all used buckets within
// the database. The deletion is done in a single transaction, therefore
// this operation is fully atomic.
func (d *DB) Wipe() error {
	return d.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(mutationBucket)
		if err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		err = tx.DeleteBucket(snapshotBucket)
		if err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(mutationBucket); err != nil {
			return err
		}
		_, err = tx.CreateBucket(snapshotBucket)
		return err
	})
}

// fetchVersion reads the current database version.
func (d *DB) fetchVersion() (uint32, error) {
	var dbVersion uint32
	err := d.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return fmt.Errorf("meta bucket not initialized")
		}
		raw := meta.Get(dbVersionKey)
		if raw == nil {
			return fmt.Errorf("db version not found")
		}
		dbVersion = byteOrder.Uint32(raw)
		return nil
	})
	return dbVersion, err
}

// syncVersions is used for safe db version synchronization. It applies
// migration functions to the current database and recovers the previous
// state of db if at least one error/panic appeared during migration.
func (d *DB) syncVersions(versions []version) error {
	dbVersion, err := d.fetchVersion()
	if err != nil {
		return err
	}

	latestVersion := getLatestDBVersion(versions)
	log.Infof("Checking for schema update: latest_version=%v, "+
		"db_version=%v", latestVersion, dbVersion)
	if dbVersion == latestVersion {
		return nil
	}

	log.Infof("Performing database schema migration")

	migrations, migrationVersions := getMigrationsToApply(
		versions, dbVersion,
	)
	return d.Update(func(tx *bolt.Tx) error {
		for i, migration := range migrations {
			if migration == nil {
				continue
			}

			log.Infof("Applying migration #%v",
				migrationVersions[i])

			if err := migration(tx); err != nil {
				log.Infof("Unable to apply migration #%v",
					migrationVersions[i])
				return err
			}
		}

		meta := tx.Bucket(metaBucket)
		var scratch [4]byte
		byteOrder.PutUint32(scratch[:], latestVersion)
		return meta.Put(dbVersionKey, scratch[:])
	})
}

func getLatestDBVersion(versions []version) uint32 {
	return versions[len(versions)-1].number
}

// getMigrationsToApply retrieves the migration function that should be
// applied to the database.
func getMigrationsToApply(versions []version,
	version uint32) ([]migration, []uint32) {

	migrations := make([]migration, 0, len(versions))
	migrationVersions := make([]uint32, 0, len(versions))

	for _, v := range versions {
		if v.number > version {
			migrations = append(migrations, v.migration)
			migrationVersions = append(migrationVersions, v.number)
		}
	}

	return migrations, migrationVersions
}
