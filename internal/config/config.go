// Package config loads orchestrator configuration from environment
// variables (the contract consumed by the HTTP surface and the CLI),
// with optional .env and YAML-overlay support layered the same way the
// host application's config package does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every orchestrator setting named in the environment
// variable table. Fields are populated by Load; zero values are never
// relied upon directly — always go through applyDefaults.
type Config struct {
	Host      string `yaml:"Host"`
	Port      int    `yaml:"Port"`
	APIKey    string `yaml:"APIKey"`
	Discovery struct {
		RemoteAgentHosts  []string `yaml:"RemoteAgentHosts"`
		PortRangeStart    int      `yaml:"PortRangeStart"`
		PortRangeEnd      int      `yaml:"PortRangeEnd"`
		IntervalSeconds   int      `yaml:"IntervalSeconds"`
		SeedHostsFilePath string   `yaml:"SeedHostsFilePath"`
	} `yaml:"Discovery"`
	TaskExecutionTimeoutSeconds int `yaml:"TaskExecutionTimeoutSeconds"`
	Dashboard                   struct {
		JWTSecret string `yaml:"JWTSecret"`
		Username  string `yaml:"Username"`
		Password  string `yaml:"Password"`
	} `yaml:"Dashboard"`
	Oracle struct {
		Provider  string `yaml:"Provider"`
		Model     string `yaml:"Model"`
		APIKey    string `yaml:"APIKey"`
		BaseURL   string `yaml:"BaseURL"`
	} `yaml:"Oracle"`
	TestManagement struct {
		Backend string `yaml:"Backend"`
	} `yaml:"TestManagement"`
}

// envVar names the environment variables this package reads.
const (
	envHost                  = "ORCHESTRATOR_HOST"
	envPort                  = "ORCHESTRATOR_PORT"
	envAPIKey                = "ORCHESTRATOR_API_KEY"
	envRemoteAgentHosts      = "REMOTE_AGENT_HOSTS"
	envAgentDiscoveryPorts   = "AGENT_DISCOVERY_PORTS"
	envDiscoveryInterval     = "DISCOVERY_INTERVAL_SECONDS"
	envTaskExecutionTimeout  = "TASK_EXECUTION_TIMEOUT_SECONDS"
	envDashboardJWTSecret    = "DASHBOARD_JWT_SECRET"
	envDashboardUsername     = "DASHBOARD_USERNAME"
	envDashboardPassword     = "DASHBOARD_PASSWORD"
	envAgentHostsFile        = "AGENT_HOSTS_FILE"
	envOracleProvider        = "ORACLE_PROVIDER"
	envOracleModel           = "ORACLE_MODEL"
	envOracleAPIKey          = "ORACLE_API_KEY"
	envOracleBaseURL         = "ORACLE_BASE_URL"
	envTestManagementBackend = "TEST_MANAGEMENT_BACKEND"
)

// Load builds a Config from the process environment, first loading a
// .env file (if present, silently ignored if absent) and optionally
// overlaying a YAML file at overlayPath (if non-empty).
func Load(overlayPath string) (Config, error) {
	_ = godotenv.Load()

	var c Config
	if overlayPath != "" {
		data, err := os.ReadFile(overlayPath)
		if err != nil {
			return c, fmt.Errorf("reading config overlay %q: %w", overlayPath, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
			return c, fmt.Errorf("parsing config overlay %q: %w", overlayPath, err)
		}
	}

	applyEnv(&c)
	applyDefaults(&c)
	return c, nil
}

// applyEnv overlays environment variables on top of whatever the YAML
// overlay set; environment always wins, matching the northbound config
// table's standing as the authoritative contract.
func applyEnv(c *Config) {
	if v := os.Getenv(envHost); v != "" {
		c.Host = v
	}
	if v := os.Getenv(envPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv(envAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(envRemoteAgentHosts); v != "" {
		c.Discovery.RemoteAgentHosts = splitAndTrim(v)
	}
	if v := os.Getenv(envAgentDiscoveryPorts); v != "" {
		start, end, err := parsePortRange(v)
		if err == nil {
			c.Discovery.PortRangeStart = start
			c.Discovery.PortRangeEnd = end
		}
	}
	if v := os.Getenv(envDiscoveryInterval); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Discovery.IntervalSeconds = n
		}
	}
	if v := os.Getenv(envAgentHostsFile); v != "" {
		c.Discovery.SeedHostsFilePath = v
	}
	if v := os.Getenv(envTaskExecutionTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TaskExecutionTimeoutSeconds = n
		}
	}
	if v := os.Getenv(envDashboardJWTSecret); v != "" {
		c.Dashboard.JWTSecret = v
	}
	if v := os.Getenv(envDashboardUsername); v != "" {
		c.Dashboard.Username = v
	}
	if v := os.Getenv(envDashboardPassword); v != "" {
		c.Dashboard.Password = v
	}
	if v := os.Getenv(envOracleProvider); v != "" {
		c.Oracle.Provider = v
	}
	if v := os.Getenv(envOracleModel); v != "" {
		c.Oracle.Model = v
	}
	if v := os.Getenv(envOracleAPIKey); v != "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv(envOracleBaseURL); v != "" {
		c.Oracle.BaseURL = v
	}
	if v := os.Getenv(envTestManagementBackend); v != "" {
		c.TestManagement.Backend = v
	}
}

// applyDefaults sets every configuration default (or whatever is
// needed to make the remaining knobs usable).
func applyDefaults(c *Config) {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Discovery.PortRangeStart == 0 && c.Discovery.PortRangeEnd == 0 {
		c.Discovery.PortRangeStart = 9000
		c.Discovery.PortRangeEnd = 9010
	}
	if c.Discovery.IntervalSeconds == 0 {
		c.Discovery.IntervalSeconds = 60
	}
	if c.TaskExecutionTimeoutSeconds == 0 {
		c.TaskExecutionTimeoutSeconds = 120
	}
	if c.Dashboard.JWTSecret == "" {
		c.Dashboard.JWTSecret = "dev-insecure-secret-change-me"
	}
	if c.Dashboard.Username == "" {
		c.Dashboard.Username = "admin"
	}
	if c.Oracle.Provider == "" {
		c.Oracle.Provider = "heuristic"
	}
	if c.TestManagement.Backend == "" {
		c.TestManagement.Backend = "fake"
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePortRange(v string) (start, end int, err error) {
	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid port range %q: want start-end", v)
	}
	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q: %w", v, err)
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q: %w", v, err)
	}
	if start > end {
		return 0, 0, fmt.Errorf("invalid port range %q: start > end", v)
	}
	return start, end, nil
}
