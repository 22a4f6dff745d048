package config

import (
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

// ShutdownAction decides what happens to a member when the cluster shuts down
type ShutdownAction string

const (
	// The process is left running and survives the cluster
	ShutdownActionNone ShutdownAction = "none"
	ShutdownActionKill ShutdownAction = "kill"
)

// AgentConfig describes the processes of one agent type. The agent type is
// the key of the agents map.
type AgentConfig struct {
	AgentType string `yaml:"-"`

	ExecutablePath        string            `yaml:"executable_path"`
	CommandLineArguments  string            `yaml:"command_line_arguments,omitempty"`
	EnvironmentVariables  map[string]string `yaml:"environment_variables,omitempty"`
	WorkingDirectory      string            `yaml:"working_directory,omitempty"`
	ClusterShutdownAction ShutdownAction    `yaml:"cluster_shutdown_action,omitempty"`

	HostName          string `yaml:"host_name,omitempty"`
	UseTLS            bool   `yaml:"use_tls,omitempty"`
	ClientCertificate string `yaml:"client_certificate,omitempty"`
	ClientKey         string `yaml:"client_key,omitempty"`

	ProcessCount int      `yaml:"process_count,omitempty"`
	Ports        []int    `yaml:"ports,omitempty"`
	ServiceNames []string `yaml:"service_names,omitempty"`

	RecyclingIntervalHours float64 `yaml:"recycling_interval_hours,omitempty"`
	StartupWaitSeconds     float64 `yaml:"startup_wait_seconds,omitempty"`
	PrioritizeAvailability bool    `yaml:"prioritize_availability,omitempty"`
}

// GetPorts returns one port per process. Without configured ports every
// process gets -1, i.e. an ephemeral port assigned at start.
func (a *AgentConfig) GetPorts() []int {
	if len(a.Ports) > 0 {
		ports := make([]int, len(a.Ports))
		copy(ports, a.Ports)
		return ports
	}

	ports := make([]int, a.ProcessCount)
	for i := range ports {
		ports[i] = -1
	}
	return ports
}

func (a *AgentConfig) StartupWait() time.Duration {
	return seconds(a.StartupWaitSeconds)
}

func (a *AgentConfig) IsKeyValueStore() bool {
	return strings.EqualFold(a.AgentType, AgentTypeKeyValueStore)
}

// AgentsOfType returns the agents whose type matches case-insensitively
func (c *QuaestorConfig) AgentsOfType(agentType string) []*AgentConfig {
	var result []*AgentConfig
	for _, name := range c.AgentTypes() {
		if strings.EqualFold(name, agentType) {
			result = append(result, c.Agents[name])
		}
	}
	return result
}

// AgentTypes lists the configured agent types in a stable order
func (c *QuaestorConfig) AgentTypes() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
