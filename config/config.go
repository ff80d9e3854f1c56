package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/stride-chat/globals"
)

const (
	defaultAdminUser          = "admin"
	defaultMaxAttachments     = 4
	defaultMaxAttachmentBytes = 20 << 20
)

// Config is the global configuration object which is filled via the configuration file, the environment
// (prefix STRIDECHAT_) and command line flags.
type Config struct {
	LogLevel          string            `mapstructure:"log_level"`
	AdminUser         string            `mapstructure:"admin_user"`
	ServerConfig      ServerConfig      `mapstructure:"server"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	LimitsConfig      LimitsConfig      `mapstructure:"limits"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	StorageConfig     StorageConfig     `mapstructure:"storage"`
	RedisConfig       RedisConfig       `mapstructure:"redis"`
	KafkaConfig       KafkaConfig       `mapstructure:"kafka"`
	FanoutConfig      FanoutConfig      `mapstructure:"fanout"`
	CacheConfig       CacheConfig       `mapstructure:"cache"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	CertFile       string   `mapstructure:"cert_file"`
	KeyFile        string   `mapstructure:"key_file"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // empty: same origin only
	InstanceId     string   `mapstructure:"instance_id"`     // generated when empty
}

// PersistenceConfig selects the database. Type is one of sqlite, postgres.
type PersistenceConfig struct {
	Type         string `mapstructure:"type"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"` // ignored for sqlite, which uses a single connection
}

// LimitsConfig bounds what a single connection may send.
type LimitsConfig struct {
	MaxAttachments     int           `mapstructure:"max_attachments"`
	MaxAttachmentBytes int64         `mapstructure:"max_attachment_bytes"`
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
	SendRate           float64       `mapstructure:"send_rate"` // events per second per connection
	SendBurst          int           `mapstructure:"send_burst"`
	ReadLimit          int64         `mapstructure:"read_limit"` // max websocket frame size
}

// AuthConfig configures the HMAC signed session tokens issued by the session subsystem.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// An OIDCConfig  object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", this is used to construct the discovery url and subsequently discover the openid endpoints
}

// StorageConfig configures the attachment object store (memory or s3) and the staging ledger used to
// collect orphaned uploads.
type StorageConfig struct {
	Type          string        `mapstructure:"type"`
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	Endpoint      string        `mapstructure:"endpoint"` // for s3 compatible stores
	UsePathStyle  bool          `mapstructure:"use_path_style"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	StagingPath   string        `mapstructure:"staging_path"` // buntdb file, ":memory:" for tests
	GCSpec        string        `mapstructure:"gc_spec"`      // cron spec of the orphan sweeper
	GCGrace       time.Duration `mapstructure:"gc_grace"`
	LockPath      string        `mapstructure:"lock_path"` // flock file, one sweeper per host
}

// RedisConfig enables the cross-instance relay and shared presence when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// KafkaConfig enables the committed message event sink when Brokers is not empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type FanoutConfig struct {
	ReorderWindow time.Duration `mapstructure:"reorder_window"`
	LaneBuffer    int           `mapstructure:"lane_buffer"`
}

type CacheConfig struct {
	ProfileCacheSize int `mapstructure:"profile_cache_size"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("admin-user", "a", "", "id of the admin user")
	flagSet.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flagSet.String("addr", "", "listen address")
	flagSet.String("persistence-type", "", "database type (sqlite, postgres)")
	flagSet.String("persistence-dsn", "", "database dsn")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// flagKeys maps normalized flag names to nested configuration keys.
var flagKeys = map[string]string{
	"admin_user":       "admin_user",
	"log_level":        "log_level",
	"addr":             "server.addr",
	"persistence_type": "persistence.type",
	"persistence_dsn":  "persistence.dsn",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("admin_user", defaultAdminUser)
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.instance_id", "")
	v.SetDefault("persistence.type", "sqlite")
	v.SetDefault("persistence.dsn", "stride-chat.db")
	v.SetDefault("persistence.max_open_conns", 20)
	v.SetDefault("limits.max_attachments", defaultMaxAttachments)
	v.SetDefault("limits.max_attachment_bytes", defaultMaxAttachmentBytes)
	v.SetDefault("limits.send_timeout", 15*time.Second)
	v.SetDefault("limits.send_rate", 10.0)
	v.SetDefault("limits.send_burst", 20)
	v.SetDefault("limits.read_limit", (defaultMaxAttachments*defaultMaxAttachmentBytes*4)/3+64*1024)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.use_path_style", false)
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.staging_path", "staging.db")
	v.SetDefault("storage.gc_spec", "@every 10m")
	v.SetDefault("storage.gc_grace", time.Hour)
	v.SetDefault("storage.lock_path", "stride-chat-gc.lock")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "stridechat")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "stride-chat.messages")
	v.SetDefault("fanout.reorder_window", 2*time.Second)
	v.SetDefault("fanout.lane_buffer", 256)
	v.SetDefault("cache.profile_cache_size", 4096)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		for name, key := range flagKeys {
			if f := flagSet.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					globals.AppLogger.Error("could not bind flag (ignored)", "flag", name, "error", err)
				}
			}
		}
	}
	v.SetEnvPrefix("STRIDECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	globals.AppLogger.Debug("config", "log_level", cfg.LogLevel, "persistence", cfg.PersistenceConfig.Type, "storage", cfg.StorageConfig.Type)
	return &cfg, nil
}
