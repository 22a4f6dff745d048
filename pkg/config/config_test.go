package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
)

const sampleConfig = `
cluster:
  name: demo
  heartbeat_interval_seconds: 10
agents:
  Worker:
    executable_path: ./workertest
    command_line_arguments: "--host {HostName} --port {Port}"
    environment_variables:
      WORKER_MODE: test
    process_count: 3
    ports: [9001, 9002, 9003]
    service_names: [Worker]
  KeyValueStore:
    executable_path: /usr/bin/etcd
    cluster_shutdown_action: None
    ports: [2379]
`

func TestParseConfig_Defaults(t *testing.T) {
	config, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "demo", config.Cluster.Name)
	assert.Equal(t, 10*time.Second, config.Cluster.HeartBeatInterval())
	assert.Equal(t, 5*time.Second, config.Cluster.MemberResponseTimeOut())
	assert.Equal(t, 45*time.Second, config.Cluster.MemberMaxShutdownTime())
	assert.Equal(t, 25, config.Cluster.MemberMaxStartupRetries)

	assert.Equal(t, "localhost", config.LoadBalancer.HostName)
	assert.Equal(t, 5150, config.LoadBalancer.Port)
	assert.Equal(t, 2*time.Second, config.LoadBalancer.ServiceResponseTimeout())
	assert.Equal(t, 5*time.Second, config.LoadBalancer.RecentlyUsedTimeout())

	worker := config.Agents["Worker"]
	require.NotNil(t, worker)
	assert.Equal(t, "Worker", worker.AgentType)
	assert.Equal(t, "127.0.0.1", worker.HostName)
	assert.Equal(t, ShutdownActionKill, worker.ClusterShutdownAction)
	assert.Equal(t, 8*time.Second, worker.StartupWait())
	assert.Equal(t, []int{9001, 9002, 9003}, worker.GetPorts())
	assert.Equal(t, "test", worker.EnvironmentVariables["WORKER_MODE"])

	kvs := config.AgentsOfType("keyvaluestore")
	require.Len(t, kvs, 1)
	assert.True(t, kvs[0].IsKeyValueStore())
	assert.Equal(t, 1, kvs[0].ProcessCount)
	assert.Equal(t, ShutdownActionNone, kvs[0].ClusterShutdownAction)

	assert.Equal(t, []string{"KeyValueStore", "Worker"}, config.AgentTypes())
}

func TestAgentConfig_EphemeralPorts(t *testing.T) {
	agent := &AgentConfig{ProcessCount: 2}
	assert.Equal(t, []int{-1, -1}, agent.GetPorts())
}

func TestValidateAgentConfig(t *testing.T) {
	valid := func() *AgentConfig {
		return &AgentConfig{
			ExecutablePath:        "/bin/worker",
			ProcessCount:          2,
			Ports:                 []int{9001, 9002},
			ClusterShutdownAction: ShutdownActionKill,
		}
	}

	tests := []struct {
		name    string
		modify  func(a *AgentConfig)
		wantErr bool
	}{
		{name: "valid", modify: func(a *AgentConfig) {}},
		{name: "ephemeral ports", modify: func(a *AgentConfig) { a.Ports = nil }},
		{name: "missing executable", modify: func(a *AgentConfig) { a.ExecutablePath = "" }, wantErr: true},
		{name: "port count mismatch", modify: func(a *AgentConfig) { a.Ports = []int{9001} }, wantErr: true},
		{name: "port out of range", modify: func(a *AgentConfig) { a.Ports = []int{9001, 70000} }, wantErr: true},
		{name: "unknown shutdown action", modify: func(a *AgentConfig) { a.ClusterShutdownAction = "restart" }, wantErr: true},
		{name: "certificate without key", modify: func(a *AgentConfig) { a.ClientCertificate = "cert.pem" }, wantErr: true},
		{name: "negative recycling", modify: func(a *AgentConfig) { a.RecyclingIntervalHours = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := valid()
			tt.modify(agent)
			err := ValidateAgentConfig(agent)
			if tt.wantErr {
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseConfig_InvalidAgent(t *testing.T) {
	_, err := ParseConfig([]byte(`
agents:
  Worker:
    process_count: 2
`))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Contains(t, err.Error(), "executable_path")
}

func TestLoadConfigFromFile_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFileName), []byte(sampleConfig), 0o644))

	config, err := LoadConfigFromFile(dir)
	require.NoError(t, err)
	assert.Len(t, config.Agents, 2)

	_, err = LoadConfigFromFile(filepath.Join(dir, "missing.yml"))
	assert.True(t, errors.IsIOError(err))
}
