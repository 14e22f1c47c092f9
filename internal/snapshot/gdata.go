package snapshot

import (
	"fmt"

	"github.com/quasilyte/gdata"
)

// FileStore keeps snapshots in the OS application-data directory via gdata.
type FileStore struct {
	m *gdata.Manager
}

// OpenFile opens (creating if needed) the app-scoped data directory.
func OpenFile(appName string) (*FileStore, error) {
	m, err := gdata.Open(gdata.Config{AppName: appName})
	if err != nil {
		return nil, fmt.Errorf("open snapshot storage: %w", err)
	}
	return &FileStore{m: m}, nil
}

func (s *FileStore) Save(key string, data []byte) error {
	return s.m.SaveItem(key, data)
}

func (s *FileStore) Load(key string) ([]byte, error) {
	data, err := s.m.LoadItem(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Delete clears the item by overwriting it with no data.
func (s *FileStore) Delete(key string) error {
	return s.m.SaveItem(key, nil)
}
