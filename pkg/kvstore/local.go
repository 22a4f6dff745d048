package kvstore

import (
	"context"
	"strings"
	"sync"
)

// LocalStore is an in-memory map. It is the default backend until a
// distributed store becomes reachable.
type LocalStore struct {
	mutex sync.RWMutex
	data  map[string]string
}

func NewLocalStore() *LocalStore {
	return &LocalStore{
		data: make(map[string]string),
	}
}

func (s *LocalStore) Put(_ context.Context, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.data[key] = value
	return nil
}

func (s *LocalStore) GetValue(_ context.Context, key string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.data[key], nil
}

func (s *LocalStore) GetRange(_ context.Context, keyPrefix string) (map[string]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make(map[string]string)
	for key, value := range s.data {
		if strings.HasPrefix(key, keyPrefix) {
			result[key] = value
		}
	}
	return result, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.data, key)
	return nil
}

func (s *LocalStore) IsLocal() bool {
	return true
}

func (s *LocalStore) Close() error {
	return nil
}
