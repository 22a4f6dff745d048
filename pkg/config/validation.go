package config

import (
	"fmt"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
)

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *QuaestorConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateClusterConfig(&config.Cluster); err != nil {
		return errors.NewValidationError("invalid cluster configuration", err)
	}

	if err := validateLoadBalancerConfig(&config.LoadBalancer); err != nil {
		return errors.NewValidationError("invalid load balancer configuration", err)
	}

	for _, agentType := range config.AgentTypes() {
		if err := ValidateAgentConfig(config.Agents[agentType]); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid agent configuration '%s'", agentType),
				err,
			).WithContext("agent_type", agentType)
		}
	}

	return nil
}

func validateClusterConfig(config *ClusterConfig) error {
	durations := []struct {
		name  string
		value float64
	}{
		{"heartbeat_interval_seconds", config.HeartBeatIntervalSeconds},
		{"member_response_timeout_seconds", config.MemberResponseTimeOutSeconds},
		{"member_max_shutdown_time_seconds", config.MemberMaxShutdownTimeSeconds},
		{"shutdown_timeout_seconds", config.ShutdownTimeoutSeconds},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return errors.NewValidationError(fmt.Sprintf("%s must be positive: %v", d.name, d.value), nil)
		}
	}

	if config.MemberMaxStartupRetries < 0 {
		return errors.NewValidationError(
			fmt.Sprintf("member_max_startup_retries cannot be negative: %d", config.MemberMaxStartupRetries),
			nil,
		)
	}
	if config.MemberRecyclingIntervalHours < 0 {
		return errors.NewValidationError("member_recycling_interval_hours cannot be negative", nil)
	}
	return nil
}

func validateLoadBalancerConfig(config *LoadBalancerConfig) error {
	if err := validatePort(config.Port); err != nil {
		return err
	}
	if config.Certificate != "" && config.PrivateKeyFile == "" {
		return errors.NewValidationError("private_key_file is required with a certificate", nil)
	}
	if config.EnforceMutualTLS && config.Certificate == "" {
		return errors.NewValidationError("enforce_mutual_tls requires a certificate", nil)
	}
	if config.ServiceResponseTimeoutSeconds <= 0 || config.RecentlyUsedTimeoutSeconds < 0 {
		return errors.NewValidationError("load balancer timeouts must be positive", nil)
	}
	return nil
}

// ValidateAgentConfig checks one agent after defaults were applied
func ValidateAgentConfig(agent *AgentConfig) error {
	if agent == nil {
		return errors.NewValidationError("agent configuration cannot be empty", nil)
	}
	if agent.ExecutablePath == "" {
		return errors.NewValidationError("executable_path is required", nil)
	}
	if agent.ProcessCount < 1 {
		return errors.NewValidationError(fmt.Sprintf("process_count must be at least 1: %d", agent.ProcessCount), nil)
	}
	if len(agent.Ports) > 0 && len(agent.Ports) != agent.ProcessCount {
		return errors.NewValidationError(
			fmt.Sprintf("number of ports (%d) does not match process_count (%d)", len(agent.Ports), agent.ProcessCount),
			nil,
		)
	}
	for i, port := range agent.Ports {
		if err := validatePort(port); err != nil {
			return errors.NewValidationError(fmt.Sprintf("invalid port at index %d", i), err)
		}
	}
	switch agent.ClusterShutdownAction {
	case ShutdownActionNone, ShutdownActionKill:
	default:
		return errors.NewValidationError(
			fmt.Sprintf("invalid cluster_shutdown_action: %s", agent.ClusterShutdownAction),
			nil,
		).WithContext("valid_actions", "none, kill")
	}
	if agent.RecyclingIntervalHours < 0 || agent.StartupWaitSeconds < 0 {
		return errors.NewValidationError("recycling interval and startup wait cannot be negative", nil)
	}
	if (agent.ClientCertificate == "") != (agent.ClientKey == "") {
		return errors.NewValidationError("client_certificate and client_key must be given together", nil)
	}
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid port number: %d", port),
			nil,
		).WithContext("valid_range", "1-65535")
	}
	return nil
}
