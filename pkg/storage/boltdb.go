package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/bastionhq/bastion/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketNodes     = []byte("nodes")
	bucketServers   = []byte("servers")
	bucketSchedules = []byte("schedules")
	bucketBackups   = []byte("backups")
)

// BoltStore implements Store using bbolt
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the panel database in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "bastion.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNodes,
			bucketServers,
			bucketSchedules,
			bucketBackups,
		}

		for _, bucket := range buckets {
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

func (s *BoltStore) put(bucket []byte, id string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) get(bucket []byte, id string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}

// Node operations

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.put(bucketNodes, node.ID, node)
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	if err := s.get(bucketNodes, id, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node) // Same as create (upsert)
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.delete(bucketNodes, id)
}

// Server operations

func (s *BoltStore) CreateServer(server *types.Server) error {
	return s.put(bucketServers, server.ID, server)
}

func (s *BoltStore) GetServer(id string) (*types.Server, error) {
	var server types.Server
	if err := s.get(bucketServers, id, &server); err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *BoltStore) ListServers() ([]*types.Server, error) {
	var servers []*types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).ForEach(func(k, v []byte) error {
			var server types.Server
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			servers = append(servers, &server)
			return nil
		})
	})
	return servers, err
}

func (s *BoltStore) ListServersByNode(nodeID string) ([]*types.Server, error) {
	servers, err := s.ListServers()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Server
	for _, server := range servers {
		if server.NodeID == nodeID {
			filtered = append(filtered, server)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateServer(server *types.Server) error {
	return s.CreateServer(server)
}

func (s *BoltStore) DeleteServer(id string) error {
	return s.delete(bucketServers, id)
}

// Schedule operations

func (s *BoltStore) CreateSchedule(schedule *types.Schedule) error {
	return s.put(bucketSchedules, schedule.ID, schedule)
}

func (s *BoltStore) GetSchedule(id string) (*types.Schedule, error) {
	var schedule types.Schedule
	if err := s.get(bucketSchedules, id, &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *BoltStore) ListSchedules() ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			var schedule types.Schedule
			if err := json.Unmarshal(v, &schedule); err != nil {
				return err
			}
			schedules = append(schedules, &schedule)
			return nil
		})
	})
	return schedules, err
}

func (s *BoltStore) ListSchedulesByServer(serverID string) ([]*types.Schedule, error) {
	schedules, err := s.ListSchedules()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Schedule
	for _, schedule := range schedules {
		if schedule.ServerID == serverID {
			filtered = append(filtered, schedule)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListActiveSchedules() ([]*types.Schedule, error) {
	schedules, err := s.ListSchedules()
	if err != nil {
		return nil, err
	}

	var active []*types.Schedule
	for _, schedule := range schedules {
		if schedule.IsActive {
			active = append(active, schedule)
		}
	}
	return active, nil
}

func (s *BoltStore) UpdateSchedule(schedule *types.Schedule) error {
	return s.CreateSchedule(schedule)
}

func (s *BoltStore) DeleteSchedule(id string) error {
	return s.delete(bucketSchedules, id)
}

// Backup operations

func (s *BoltStore) CreateBackup(backup *types.Backup) error {
	return s.put(bucketBackups, backup.ID, backup)
}

func (s *BoltStore) GetBackup(id string) (*types.Backup, error) {
	var backup types.Backup
	if err := s.get(bucketBackups, id, &backup); err != nil {
		return nil, err
	}
	return &backup, nil
}

func (s *BoltStore) ListBackupsByServer(serverID string) ([]*types.Backup, error) {
	var backups []*types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).ForEach(func(k, v []byte) error {
			var backup types.Backup
			if err := json.Unmarshal(v, &backup); err != nil {
				return err
			}
			if backup.ServerID == serverID {
				backups = append(backups, &backup)
			}
			return nil
		})
	})
	return backups, err
}

func (s *BoltStore) UpdateBackup(backup *types.Backup) error {
	return s.CreateBackup(backup)
}

func (s *BoltStore) DeleteBackup(id string) error {
	return s.delete(bucketBackups, id)
}
