package config

import "strings"

const (
	DefaultHeartBeatIntervalSeconds     = 30
	DefaultMemberResponseTimeOutSeconds = 5
	DefaultMemberMaxShutdownTimeSeconds = 45
	DefaultMemberMaxStartupRetries      = 25
	DefaultShutdownTimeoutSeconds       = 60

	DefaultKeyValueStoreDialTimeoutSeconds = 5

	DefaultLoadBalancerHostName          = "localhost"
	DefaultLoadBalancerPort              = 5150
	DefaultServiceResponseTimeoutSeconds = 2
	DefaultRecentlyUsedTimeoutSeconds    = 5
	DefaultAgentHostName                 = "127.0.0.1"
	DefaultAgentStartupWaitSeconds       = 8
	DefaultClusterName                   = "quaestor"
)

// SetDefaults fills every unset value. Agents inherit the cluster-wide
// recycling interval when they declare none.
func SetDefaults(config *QuaestorConfig) {
	cluster := &config.Cluster
	if cluster.Name == "" {
		cluster.Name = DefaultClusterName
	}
	if cluster.HeartBeatIntervalSeconds == 0 {
		cluster.HeartBeatIntervalSeconds = DefaultHeartBeatIntervalSeconds
	}
	if cluster.MemberResponseTimeOutSeconds == 0 {
		cluster.MemberResponseTimeOutSeconds = DefaultMemberResponseTimeOutSeconds
	}
	if cluster.MemberMaxShutdownTimeSeconds == 0 {
		cluster.MemberMaxShutdownTimeSeconds = DefaultMemberMaxShutdownTimeSeconds
	}
	if cluster.MemberMaxStartupRetries == 0 {
		cluster.MemberMaxStartupRetries = DefaultMemberMaxStartupRetries
	}
	if cluster.ShutdownTimeoutSeconds == 0 {
		cluster.ShutdownTimeoutSeconds = DefaultShutdownTimeoutSeconds
	}

	if config.KeyValueStore.DialTimeoutSeconds == 0 {
		config.KeyValueStore.DialTimeoutSeconds = DefaultKeyValueStoreDialTimeoutSeconds
	}

	lb := &config.LoadBalancer
	if lb.HostName == "" {
		lb.HostName = DefaultLoadBalancerHostName
	}
	if lb.Port == 0 {
		lb.Port = DefaultLoadBalancerPort
	}
	if lb.ServiceResponseTimeoutSeconds == 0 {
		lb.ServiceResponseTimeoutSeconds = DefaultServiceResponseTimeoutSeconds
	}
	if lb.RecentlyUsedTimeoutSeconds == 0 {
		lb.RecentlyUsedTimeoutSeconds = DefaultRecentlyUsedTimeoutSeconds
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	for agentType, agent := range config.Agents {
		if agent == nil {
			continue
		}
		agent.AgentType = agentType
		setAgentDefaults(agent, cluster)
	}
}

func setAgentDefaults(agent *AgentConfig, cluster *ClusterConfig) {
	if agent.HostName == "" {
		agent.HostName = DefaultAgentHostName
	}
	if agent.ProcessCount == 0 {
		if len(agent.Ports) > 0 {
			agent.ProcessCount = len(agent.Ports)
		} else {
			agent.ProcessCount = 1
		}
	}
	if agent.ClusterShutdownAction == "" {
		agent.ClusterShutdownAction = ShutdownActionKill
	}
	agent.ClusterShutdownAction = ShutdownAction(strings.ToLower(string(agent.ClusterShutdownAction)))
	if agent.StartupWaitSeconds == 0 {
		agent.StartupWaitSeconds = DefaultAgentStartupWaitSeconds
	}
	if agent.RecyclingIntervalHours == 0 {
		agent.RecyclingIntervalHours = cluster.MemberRecyclingIntervalHours
	}
}
