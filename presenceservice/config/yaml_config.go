package config

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlPostgresConfig struct {
	URL string `yaml:"url"`
}

type YamlAMQPConfig struct {
	URL            string `yaml:"url"`
	DetectionQueue string `yaml:"detection_queue"`
}

type YamlLocationConfig struct {
	TTLHours         int    `yaml:"ttl_hours"`
	RateLimitSeconds int    `yaml:"rate_limit_seconds"`
	SweepSpec        string `yaml:"sweep_spec"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	RunMode       string             `yaml:"run_mode"`
	APIPort       string             `yaml:"api_port"`
	WebSocketPort string             `yaml:"websocket_port"`
	Redis         YamlRedisConfig    `yaml:"redis"`
	Postgres      YamlPostgresConfig `yaml:"postgres"`
	AMQP          YamlAMQPConfig     `yaml:"amqp"`
	Location      YamlLocationConfig `yaml:"location"`
}

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a
// clean, base AppConfig struct. Environment overrides and validation happen
// in stage 2 (UpdateConfigWithEnvOverrides).
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	appCfg := &AppConfig{
		RunMode:       yamlCfg.RunMode,
		APIPort:       yamlCfg.APIPort,
		WebSocketPort: yamlCfg.WebSocketPort,
		Redis:         yamlCfg.Redis,
		Postgres:      yamlCfg.Postgres,
		AMQP:          yamlCfg.AMQP,
		Location:      yamlCfg.Location,
	}
	return appCfg, nil
}
