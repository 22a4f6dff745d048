package transport

import (
	"net"
	"strconv"
	"sync"

	"github.com/phayes/freeport"
	"google.golang.org/grpc"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
)

func Address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Dial creates a lazily connecting client connection. No network traffic
// happens until the first RPC.
func Dial(host string, port int, cfg ClientTLS, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds, err := ClientCredentials(cfg)
	if err != nil {
		return nil, err
	}

	address := Address(host, port)
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)

	conn, err := grpc.Dial(address, dialOpts...)
	if err != nil {
		return nil, errors.NewNetworkError("failed to create channel", err).WithContext("address", address)
	}
	return conn, nil
}

// GetFreeTCPPort asks the OS for a currently unused port.
func GetFreeTCPPort() (int, error) {
	port, err := freeport.GetFreePort()
	if err != nil {
		return -1, errors.NewNetworkError("failed to get a free tcp port", err)
	}
	return port, nil
}

// ChannelCache keeps one client connection per endpoint and protocol.
// Concurrent first
// use may dial twice; the loser is closed and the stored one returned.
type ChannelCache struct {
	channels sync.Map // protocol://address -> *grpc.ClientConn
	dial     func(host string, port int, cfg ClientTLS) (*grpc.ClientConn, error)
}

func NewChannelCache() *ChannelCache {
	return &ChannelCache{
		dial: func(host string, port int, cfg ClientTLS) (*grpc.ClientConn, error) {
			return Dial(host, port, cfg)
		},
	}
}

// NewChannelCacheWithDialer is used by tests to route connections in-process.
func NewChannelCacheWithDialer(dial func(host string, port int, cfg ClientTLS) (*grpc.ClientConn, error)) *ChannelCache {
	return &ChannelCache{dial: dial}
}

func (c *ChannelCache) Get(host string, port int, cfg ClientTLS) (*grpc.ClientConn, error) {
	key := cacheKey(host, port, cfg)
	if existing, ok := c.channels.Load(key); ok {
		return existing.(*grpc.ClientConn), nil
	}

	conn, err := c.dial(host, port, cfg)
	if err != nil {
		return nil, err
	}

	actual, loaded := c.channels.LoadOrStore(key, conn)
	if loaded {
		_ = conn.Close()
	}
	return actual.(*grpc.ClientConn), nil
}

func cacheKey(host string, port int, cfg ClientTLS) string {
	protocol := "http"
	if cfg.UseTLS {
		protocol = "https"
	}
	return protocol + "://" + Address(host, port)
}

// Close closes and forgets every cached connection.
func (c *ChannelCache) Close() error {
	collection := errors.NewErrorCollection()
	c.channels.Range(func(key, value interface{}) bool {
		c.channels.Delete(key)
		collection.Add(value.(*grpc.ClientConn).Close())
		return true
	})
	return collection.ToError()
}
