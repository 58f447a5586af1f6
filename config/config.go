package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Security  SecurityConfig  `mapstructure:"security"`
	Media     MediaConfig     `mapstructure:"media"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Character CharacterConfig `mapstructure:"character"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Debug       bool   `mapstructure:"debug"`
	ServiceName string `mapstructure:"service_name"`
}

type DatabaseConfig struct {
	Mode       string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath string        `mapstructure:"sqlite_path"`
	DSN        string        `mapstructure:"dsn"`
	MaxOpen    int           `mapstructure:"max_open"`
	MaxIdle    int           `mapstructure:"max_idle"`
	MaxLife    time.Duration `mapstructure:"max_life"`
	// Replicas are read-only DSNs of the same driver as DSN.
	Replicas []string `mapstructure:"replicas"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	// AdminIPs restricts /api/admin to these client IPs. Empty allows any IP.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type MediaConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type BackupConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Dir          string        `mapstructure:"dir"`
	Interval     time.Duration `mapstructure:"interval"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Keep         int           `mapstructure:"keep"`
	Tables       []string      `mapstructure:"tables"`
}

type CharacterConfig struct {
	MaxPerUser int `mapstructure:"max_per_user"`
}

// Load reads config from the given YAML file path. Any key can be overridden
// from the environment as IGNITE_<SECTION>_<KEY>, e.g. IGNITE_SECURITY_JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("IGNITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.service_name", "ignite-api")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/ignite.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("media.timeout", "30s")
	v.SetDefault("media.breaker_failures", 5)
	v.SetDefault("media.breaker_timeout", "30s")
	v.SetDefault("backup.enabled", true)
	v.SetDefault("backup.dir", "./data/backups")
	v.SetDefault("backup.interval", "24h")
	v.SetDefault("backup.initial_delay", "1m")
	v.SetDefault("backup.keep", 7)
	v.SetDefault("backup.tables", []string{"users", "relationships", "characters"})
	v.SetDefault("character.max_per_user", 50)
}
