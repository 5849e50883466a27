package config

import "time"

// ControlPlaneConfig holds runtime configuration for the control-plane service.
type ControlPlaneConfig struct {
	Environment         string
	Addr                string
	LogLevel            string
	AdminToken          string
	AgentToken          string
	RegistryPath        string
	DataDir             string
	GeneratorDir        string
	GeneratorCommand    string
	EnvFilePath         string
	ComposeCommand      string
	InternalServicePort int
	SourceFetchTimeout  time.Duration
	NginxConfPath       string
	NginxServerName     string
	NginxValidateCmd    string
	NginxReloadCmd      string
	NginxContainerName  string
	DockerHost          string
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
}

// LoadControlPlaneConfig constructs a ControlPlaneConfig from environment variables.
func LoadControlPlaneConfig() ControlPlaneConfig {
	return ControlPlaneConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":4100"),
		LogLevel:            GetString("LOG_LEVEL", "info"),
		AdminToken:          GetString("ADMIN_TOKEN", ""),
		AgentToken:          GetString("MCP_AGENT_TOKEN", ""),
		RegistryPath:        GetString("REGISTRY_PATH", "/var/lib/justgpt/registry.json"),
		DataDir:             GetString("PROJECT_DATA_DIR", "/var/lib/justgpt/projects"),
		GeneratorDir:        GetString("GENERATOR_DIR", "/opt/justgpt/agent"),
		GeneratorCommand:    GetString("GENERATOR_COMMAND", "./generate.sh"),
		EnvFilePath:         GetString("AGENT_ENV_FILE", "/opt/justgpt/agent/.env"),
		ComposeCommand:      GetString("COMPOSE_COMMAND", "docker compose"),
		InternalServicePort: GetInt("MCP_INTERNAL_PORT", 8080),
		SourceFetchTimeout:  GetDuration("SOURCE_FETCH_TIMEOUT", 15*time.Second),
		NginxConfPath:       GetString("NGINX_CONF_PATH", "/etc/nginx/conf.d/mcp.conf"),
		NginxServerName:     GetString("NGINX_SERVER_NAME", "mcp.local"),
		NginxValidateCmd:    GetString("NGINX_VALIDATE_COMMAND", "nginx -t"),
		NginxReloadCmd:      GetString("NGINX_RELOAD_COMMAND", "nginx -s reload"),
		NginxContainerName:  GetString("NGINX_CONTAINER_NAME", ""),
		DockerHost:          GetString("DOCKER_HOST_OVERRIDE", ""),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
