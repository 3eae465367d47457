package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/voltgrid/voltgrid/pkg/types"
)

var (
	// Bucket names
	bucketDevices = []byte("devices") // key = device key
	bucketSites   = []byte("sites")   // key = big-endian site id
	bucketMeta    = []byte("meta")    // sequence counters
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "voltgrid.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDevices, bucketSites, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func siteKey(id uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], id)
	return key[:]
}

// Device operations

func (s *BoltStore) CreateDevice(device *types.Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b.Get([]byte(device.Key)) != nil {
			return fmt.Errorf("device %q already exists", device.Key)
		}
		if device.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			device.ID = seq
		}
		if device.CreatedAt.IsZero() {
			device.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(device)
		if err != nil {
			return fmt.Errorf("failed to marshal device: %w", err)
		}
		return b.Put([]byte(device.Key), data)
	})
}

func (s *BoltStore) GetDevice(id uint64) (*types.Device, error) {
	var device *types.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDevices).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var d types.Device
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.ID == id {
				device = &d
				return nil
			}
		}
		return fmt.Errorf("device %d not found", id)
	})
	return device, err
}

func (s *BoltStore) GetDeviceByKey(key string) (*types.Device, error) {
	var device *types.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDevices).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("device %q not found", key)
		}
		var d types.Device
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		device = &d
		return nil
	})
	return device, err
}

func (s *BoltStore) ListDevices() ([]*types.Device, error) {
	var devices []*types.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(k, v []byte) error {
			var d types.Device
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			devices = append(devices, &d)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) ListDevicesBySite(siteID uint64) ([]*types.Device, error) {
	all, err := s.ListDevices()
	if err != nil {
		return nil, err
	}
	var devices []*types.Device
	for _, d := range all {
		if d.SiteID == siteID {
			devices = append(devices, d)
		}
	}
	return devices, nil
}

func (s *BoltStore) UpdateDevice(device *types.Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b.Get([]byte(device.Key)) == nil {
			return fmt.Errorf("device %q not found", device.Key)
		}
		data, err := json.Marshal(device)
		if err != nil {
			return fmt.Errorf("failed to marshal device: %w", err)
		}
		return b.Put([]byte(device.Key), data)
	})
}

func (s *BoltStore) DeleteDevice(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).Delete([]byte(key))
	})
}

// Site operations

func (s *BoltStore) CreateSite(site *types.Site) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSites)
		if site.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			site.ID = seq
		}
		if b.Get(siteKey(site.ID)) != nil {
			return fmt.Errorf("site %d already exists", site.ID)
		}
		if site.CreatedAt.IsZero() {
			site.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(site)
		if err != nil {
			return fmt.Errorf("failed to marshal site: %w", err)
		}
		return b.Put(siteKey(site.ID), data)
	})
}

func (s *BoltStore) GetSite(id uint64) (*types.Site, error) {
	var site *types.Site
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSites).Get(siteKey(id))
		if data == nil {
			return fmt.Errorf("site %d not found", id)
		}
		var st types.Site
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		site = &st
		return nil
	})
	return site, err
}

func (s *BoltStore) ListSites() ([]*types.Site, error) {
	var sites []*types.Site
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSites).ForEach(func(k, v []byte) error {
			var st types.Site
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			sites = append(sites, &st)
			return nil
		})
	})
	return sites, err
}

func (s *BoltStore) DeleteSite(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSites).Delete(siteKey(id))
	})
}

// Seed loads a fleet of sites and devices, skipping records that
// already exist. Used at startup with the fleet manifest.
func (s *BoltStore) Seed(sites []types.Site, devices []types.Device) error {
	for i := range sites {
		site := sites[i]
		if _, err := s.GetSite(site.ID); err == nil {
			continue
		}
		if err := s.CreateSite(&site); err != nil {
			return fmt.Errorf("failed to seed site %d: %w", site.ID, err)
		}
	}
	for i := range devices {
		device := devices[i]
		if _, err := s.GetDeviceByKey(device.Key); err == nil {
			continue
		}
		if err := s.CreateDevice(&device); err != nil {
			return fmt.Errorf("failed to seed device %q: %w", device.Key, err)
		}
	}
	return nil
}
