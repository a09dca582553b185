package jobscheduler

import (
	"strings"
	"time"

	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/Deepreo/jobscheduler/modules/bus"
	"github.com/Deepreo/jobscheduler/modules/event"
	"github.com/Deepreo/jobscheduler/modules/scheduler"
	"github.com/Deepreo/jobscheduler/modules/servers"
	"github.com/Deepreo/jobscheduler/modules/store"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, with dots turned into
// underscores: JOBSCHEDULER_STORAGE_DRIVER sets storage.driver.
const EnvPrefix = "JOBSCHEDULER"

type Config struct {
	TickInterval  time.Duration  `mapstructure:"tick_interval"`
	TopicCapacity int            `mapstructure:"topic_capacity"`
	StopTimeout   time.Duration  `mapstructure:"stop_timeout"`
	Log           logger.Config  `mapstructure:"log"`
	Storage       store.Config   `mapstructure:"storage"`
	Events        event.Config   `mapstructure:"events"`
	Admin         servers.Config `mapstructure:"admin"`
}

func DefaultConfig() Config {
	return Config{
		TickInterval:  scheduler.DefaultInterval,
		TopicCapacity: bus.DefaultCapacity,
		StopTimeout:   scheduler.DefaultStopTimeout,
		Log:           logger.DefaultConfig(),
		Storage:       store.DefaultConfig(),
		Events:        event.DefaultConfig(),
		Admin:         servers.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.ValidationError(errors.Newf("tick_interval must be positive, got %s", c.TickInterval))
	}
	if c.TopicCapacity <= 0 {
		return errors.ValidationError(errors.Newf("topic_capacity must be positive, got %d", c.TopicCapacity))
	}
	if err := c.Log.Validate(); err != nil {
		return errors.ValidationError(err)
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.Admin.Validate()
}

// LoadConfig reads defaults, then the file at path when path is not empty,
// then environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.ValidationError(errors.Wrap(err, "failed to read config file")).WithMetadata("path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ValidationError(errors.Wrap(err, "failed to unmarshal config"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers every key, which is also what makes AutomaticEnv see
// nested keys.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("tick_interval", d.TickInterval)
	v.SetDefault("topic_capacity", d.TopicCapacity)
	v.SetDefault("stop_timeout", d.StopTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.init", d.Storage.Init)
	v.SetDefault("storage.tables.job", d.Storage.Tables.Job)
	v.SetDefault("storage.tables.notification", d.Storage.Tables.Notification)
	v.SetDefault("storage.tables.notification_state", d.Storage.Tables.NotificationState)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "jobscheduler")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.sqlite.path", "")
	v.SetDefault("storage.sqlite.busy_timeout", 5*time.Second)
	v.SetDefault("storage.redis.host", d.Storage.Redis.Host)
	v.SetDefault("storage.redis.port", d.Storage.Redis.Port)
	v.SetDefault("storage.redis.addrs", []string{})
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", d.Storage.Redis.Prefix)

	v.SetDefault("events.enabled", d.Events.Enabled)
	v.SetDefault("events.poison_topic", d.Events.PoisonTopic)
	v.SetDefault("events.max_retries", d.Events.MaxRetries)
	v.SetDefault("events.retry_interval", d.Events.RetryInterval)
	v.SetDefault("events.output_buffer", d.Events.OutputBuffer)

	v.SetDefault("admin.enabled", d.Admin.Enabled)
	v.SetDefault("admin.read_timeout", d.Admin.ReadTimeout)
	v.SetDefault("admin.write_timeout", d.Admin.WriteTimeout)
	v.SetDefault("admin.server_header", d.Admin.ServerHeader)
	v.SetDefault("admin.body_limit", d.Admin.BodyLimit)
	v.SetDefault("admin.port", d.Admin.Port)
	v.SetDefault("admin.host", d.Admin.Host)
	v.SetDefault("admin.features.request_id.enabled", d.Admin.Features.RequestID.Enabled)
	v.SetDefault("admin.features.health_check.enabled", d.Admin.Features.HealthCheck.Enabled)
	v.SetDefault("admin.features.etag.enabled", false)
	v.SetDefault("admin.features.elastic_apm.enabled", false)
	v.SetDefault("admin.features.rate_limit.enabled", false)
	v.SetDefault("admin.features.rate_limit.max", 60)
	v.SetDefault("admin.features.rate_limit.expiration", "1m")
	v.SetDefault("admin.features.proxy.enabled", false)
	v.SetDefault("admin.features.proxy.proxy_header", "")
	v.SetDefault("admin.features.proxy.trusted_proxies", []string{})
}
