package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// EnvironmentTag isolates workers on a shared store: a worker only
	// processes jobs whose environment field matches.
	EnvironmentTag string `env:"ENVIRONMENT_TAG,notEmpty"`

	APIAddr string `env:"API_ADDR" envDefault:":8080"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	MongoURI    string `env:"MONGO_URI"`
	MongoDB     string `env:"MONGO_DATABASE" envDefault:"mailq"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	MaxAttempts   int             `env:"MAX_ATTEMPTS" envDefault:"5"`
	LeaseDuration time.Duration   `env:"LEASE_DURATION" envDefault:"5m"`
	RetryBackoff  []time.Duration `env:"RETRY_BACKOFF_TABLE" envDefault:"1s,5s,15s,60s,300s"`

	DispatchConcurrency int64         `env:"DISPATCH_CONCURRENCY" envDefault:"8"`
	SchedulerInterval   time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1s"`

	GmailCredentialsFile string `env:"GMAIL_CREDENTIALS_FILE"`
	GmailImpersonate     string `env:"GMAIL_IMPERSONATED_SENDER"`
	// MailFromDisplayName is the From header display name for jobs whose
	// content carries no fromDisplayName of its own.
	MailFromDisplayName string `env:"MAIL_FROM_DISPLAY_NAME"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
