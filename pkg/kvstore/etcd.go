package kvstore

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
}

// EtcdStore keeps the registry in an etcd cluster, which lets several
// discovery services share one view of the registered endpoints.
type EtcdStore struct {
	client *clientv3.Client
	logger logging.Logger
}

// ConnectEtcd dials the endpoints and verifies that at least one of them
// answers a status request within the dial timeout.
func ConnectEtcd(ctx context.Context, config EtcdConfig, logger logging.Logger) (*EtcdStore, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.NewValidationError("no etcd endpoints configured", nil)
	}
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.NewNetworkError("failed to create etcd client", err).WithContext("endpoints", config.Endpoints)
	}

	var lastErr error
	for _, endpoint := range config.Endpoints {
		statusCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		_, lastErr = client.Status(statusCtx, endpoint)
		cancel()
		if lastErr == nil {
			logger.Infof("Connected to etcd, endpoint: %s", endpoint)
			return &EtcdStore{client: client, logger: logger}, nil
		}
		logger.Warnf("Etcd endpoint not reachable, endpoint: %s, error: %v", endpoint, lastErr)
	}

	_ = client.Close()
	return nil, errors.NewUnavailableError("no etcd endpoint reachable", lastErr).WithContext("endpoints", config.Endpoints)
}

func (s *EtcdStore) Put(ctx context.Context, key, value string) error {
	if _, err := s.client.Put(ctx, key, value); err != nil {
		return errors.NewRegistryError("etcd put failed", err).WithContext("key", key)
	}
	return nil
}

func (s *EtcdStore) GetValue(ctx context.Context, key string) (string, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return "", errors.NewRegistryError("etcd get failed", err).WithContext("key", key)
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

func (s *EtcdStore) GetRange(ctx context.Context, keyPrefix string) (map[string]string, error) {
	resp, err := s.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.NewRegistryError("etcd range failed", err).WithContext("prefix", keyPrefix)
	}
	result := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result[string(kv.Key)] = string(kv.Value)
	}
	return result, nil
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, key); err != nil {
		return errors.NewRegistryError("etcd delete failed", err).WithContext("key", key)
	}
	return nil
}

func (s *EtcdStore) IsLocal() bool {
	return false
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
