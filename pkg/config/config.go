package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

// DefaultConfigFileName is looked up when a directory is given instead of a file
const DefaultConfigFileName = "quaestor.config.yml"

// Well-known agent types
const (
	AgentTypeKeyValueStore = "KeyValueStore"
	AgentTypeLoadBalancer  = "LoadBalancer"
	AgentTypeWorker        = "Worker"
)

// QuaestorConfig is the top-level configuration file structure
type QuaestorConfig struct {
	Logging       logging.ZapConfig       `yaml:"logging,omitempty"`
	Cluster       ClusterConfig           `yaml:"cluster"`
	KeyValueStore KeyValueStoreConfig     `yaml:"key_value_store,omitempty"`
	LoadBalancer  LoadBalancerConfig      `yaml:"load_balancer,omitempty"`
	Status        StatusConfig            `yaml:"status,omitempty"`
	Agents        map[string]*AgentConfig `yaml:"agents"`
}

// ClusterConfig holds the cluster-wide supervision timing
type ClusterConfig struct {
	Name                         string  `yaml:"name"`
	HeartBeatIntervalSeconds     float64 `yaml:"heartbeat_interval_seconds,omitempty"`
	MemberResponseTimeOutSeconds float64 `yaml:"member_response_timeout_seconds,omitempty"`
	MemberMaxShutdownTimeSeconds float64 `yaml:"member_max_shutdown_time_seconds,omitempty"`
	MemberMaxStartupRetries      int     `yaml:"member_max_startup_retries,omitempty"`
	MemberRecyclingIntervalHours float64 `yaml:"member_recycling_interval_hours,omitempty"`
	ShutdownTimeoutSeconds       float64 `yaml:"shutdown_timeout_seconds,omitempty"`
	PidDirectory                 string  `yaml:"pid_directory,omitempty"`
}

func (c ClusterConfig) HeartBeatInterval() time.Duration {
	return seconds(c.HeartBeatIntervalSeconds)
}

func (c ClusterConfig) MemberResponseTimeOut() time.Duration {
	return seconds(c.MemberResponseTimeOutSeconds)
}

func (c ClusterConfig) MemberMaxShutdownTime() time.Duration {
	return seconds(c.MemberMaxShutdownTimeSeconds)
}

func (c ClusterConfig) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutSeconds)
}

// KeyValueStoreConfig lists explicit etcd endpoints. When empty, the
// endpoints are taken from the KeyValueStore agents of the cluster.
type KeyValueStoreConfig struct {
	Endpoints          []string `yaml:"endpoints,omitempty"`
	DialTimeoutSeconds float64  `yaml:"dial_timeout_seconds,omitempty"`
}

func (c KeyValueStoreConfig) DialTimeout() time.Duration {
	return seconds(c.DialTimeoutSeconds)
}

// LoadBalancerConfig configures the discovery service
type LoadBalancerConfig struct {
	HostName                      string  `yaml:"host_name,omitempty"`
	Port                          int     `yaml:"port,omitempty"`
	Certificate                   string  `yaml:"certificate,omitempty"`
	PrivateKeyFile                string  `yaml:"private_key_file,omitempty"`
	ClientCA                      string  `yaml:"client_ca,omitempty"`
	EnforceMutualTLS              bool    `yaml:"enforce_mutual_tls,omitempty"`
	ServiceResponseTimeoutSeconds float64 `yaml:"service_response_timeout_seconds,omitempty"`
	RecentlyUsedTimeoutSeconds    float64 `yaml:"recently_used_timeout_seconds,omitempty"`
	IgnoreServerCPU               bool    `yaml:"ignore_server_cpu,omitempty"`
}

func (c LoadBalancerConfig) ServiceResponseTimeout() time.Duration {
	return seconds(c.ServiceResponseTimeoutSeconds)
}

func (c LoadBalancerConfig) RecentlyUsedTimeout() time.Duration {
	return seconds(c.RecentlyUsedTimeoutSeconds)
}

// StatusConfig enables the REST status surface of the supervisor
type StatusConfig struct {
	Address string `yaml:"address,omitempty"`
}

// ResolveConfigPath accepts either a file or a directory holding
// quaestor.config.yml.
func ResolveConfigPath(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, DefaultConfigFileName)
	}
	return path
}

// LoadConfigFromFile reads, defaults and validates the configuration
func LoadConfigFromFile(filename string) (*QuaestorConfig, error) {
	filename = ResolveConfigPath(filename)

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.NewValidationError("invalid configuration file", err).WithContext("filename", filename)
	}
	return config, nil
}

// ParseConfig parses YAML content, applies defaults and validates
func ParseConfig(data []byte) (*QuaestorConfig, error) {
	var config QuaestorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	SetDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}
