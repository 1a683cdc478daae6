package config

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully typed configuration surface recognized by Talemon's
// three long-running processes (scheduler, worker, extractor). Every field
// maps to a mapstructure key; MustLoad reports unrecognized keys rather than
// silently accepting them.
type Config struct {
	Env         string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`
	LogType     string `mapstructure:"log_type"`
	ServiceName string `mapstructure:"service_name"`
	Port        string `mapstructure:"port"`
	Version     string `mapstructure:"version"`

	Scheduler *SchedulerConfig `mapstructure:"scheduler"`
	Worker    *WorkerConfig    `mapstructure:"worker"`
	Extractor *ExtractorConfig `mapstructure:"extractor"`
	Database  *DatabaseConfig  `mapstructure:"database"`
	OSS       *OSSConfig       `mapstructure:"oss"`
	Browser   *BrowserConfig   `mapstructure:"browser"`
	Hasher    *HasherConfig    `mapstructure:"hasher"`
	Kafka     *KafkaConfig     `mapstructure:"kafka"`
	Telemetry *TelemetryConfig `mapstructure:"telemetry"`
}

type SchedulerConfig struct {
	TickInterval    time.Duration    `mapstructure:"tick_interval"`
	ZombieTimeout   time.Duration    `mapstructure:"zombie_timeout"`
	BatchSize       int              `mapstructure:"batch_size"`
	DefaultInterval time.Duration    `mapstructure:"default_check_interval"`
	RateLimit       *RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Backend           string        `mapstructure:"backend"` // "local" | "memcached"
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	MemcachedServers  []string      `mapstructure:"memcached_servers"`
}

type WorkerConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PageTimeout       time.Duration `mapstructure:"page_timeout"`
	WorkersNum        int           `mapstructure:"workers_num"`
	UserAgent         string        `mapstructure:"user_agent"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
}

type ExtractorConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Version      string        `mapstructure:"version"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type OSSConfig struct {
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	PathTemplate    string `mapstructure:"path_template"`
	TimestampFormat string `mapstructure:"timestamp_format"`
}

type BrowserConfig struct {
	ProfileDir        string        `mapstructure:"profile_dir"`
	ExtensionsDir     string        `mapstructure:"extensions_dir"`
	Headless          bool          `mapstructure:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExecutablePath    string        `mapstructure:"executable_path"`
}

type HasherConfig struct {
	StripTags    []string `mapstructure:"strip_tags"`
	AdSelectors  []string `mapstructure:"ad_selectors"`
	ExtractAttrs []string `mapstructure:"extract_attrs"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr                []string      `mapstructure:"addr"`
	ChangeEventsTopic   string        `mapstructure:"change_events_topic"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAcks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ChangeEventsTopic string        `mapstructure:"change_events_topic"`
	Brokers           []string      `mapstructure:"brokers"`
	GroupID           string        `mapstructure:"group_id"`
	MaxWait           time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout  time.Duration `mapstructure:"read_batch_timeout"`
	QueueCapacity     int           `mapstructure:"queue_capacity"`
	MaxBytes          int           `mapstructure:"max_bytes"`
	CommitInterval    time.Duration `mapstructure:"commit_interval"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

// MustLoad reads config.yaml (or TALEMON_* env overrides), unmarshals it
// into a Config, and exits the process on any error, additionally
// reporting unrecognized keys.
func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.SetEnvPrefix("talemon")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	if unknown := unrecognizedKeys(viper.AllKeys(), &cfg); len(unknown) > 0 {
		slog.Warn("config file contains unrecognized keys.", slog.Any("keys", unknown))
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}

// unrecognizedKeys diffs the keys viper actually read against the
// mapstructure tags reachable from cfg, satisfying the design note that an
// explicit, typed config surface should report unknown keys rather than
// silently accept them.
func unrecognizedKeys(allKeys []string, cfg *Config) []string {
	known := map[string]struct{}{}
	collectMapstructureKeys(reflect.TypeOf(cfg), "", known)

	var unknown []string
	for _, k := range allKeys {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

func collectMapstructureKeys(t reflect.Type, prefix string, out map[string]struct{}) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		full := tag
		if prefix != "" {
			full = prefix + "." + tag
		}
		out[full] = struct{}{}

		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			collectMapstructureKeys(ft, full, out)
		}
	}
}

// Validate performs startup sanity checks beyond what mapstructure can
// express: the lease-correctness condition (zombie_timeout must be at least
// twice the worker heartbeat interval plus 5s of latency slack) and the
// rate-limit backend name.
func (c *Config) Validate() error {
	if c.Scheduler != nil && c.Worker != nil {
		minZombie := 2*c.Worker.HeartbeatInterval + 5*time.Second
		if c.Scheduler.ZombieTimeout < minZombie {
			return fmt.Errorf("scheduler.zombie_timeout (%s) must exceed 2x worker.heartbeat_interval + latency slack (want >= %s)",
				c.Scheduler.ZombieTimeout, minZombie)
		}
	}
	if c.Scheduler != nil && c.Scheduler.RateLimit != nil {
		backend := strings.ToLower(c.Scheduler.RateLimit.Backend)
		if backend != "local" && backend != "memcached" {
			return fmt.Errorf("scheduler.rate_limit.backend must be 'local' or 'memcached', got %q", c.Scheduler.RateLimit.Backend)
		}
	}
	return nil
}
