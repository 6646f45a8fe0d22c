package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const envPrefix = "STOREFRONT"

const (
	PersistenceMemory = "memory"
	PersistenceMySQL  = "mysql"
	PersistenceMongo  = "mongodb"
)

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr string `envconfig:"GRPC_ADDR" default:":50051"`

	Persistence       string `envconfig:"PERSISTENCE" default:"memory"`
	MySQLDSN          string `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/storefront?parseTime=true"`
	MongoURI          string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase     string `envconfig:"MONGO_DATABASE" default:"storefront"`
	MongoTransactions bool   `envconfig:"MONGO_TRANSACTIONS" default:"false"`

	// RedisAddr enables the cart cache, the idempotency guard and the feed relay when set.
	RedisAddr         string `envconfig:"REDIS_ADDR"`
	KafkaBrokers      string `envconfig:"KAFKA_BROKERS"`
	KafkaCatalogTopic string `envconfig:"KAFKA_CATALOG_TOPIC" default:"catalog-events"`

	AtomicCheckout bool `envconfig:"ATOMIC_CHECKOUT" default:"true"`

	FeedWorkers   int `envconfig:"FEED_WORKERS" default:"2"`
	FeedQueueSize int `envconfig:"FEED_QUEUE_SIZE" default:"1024"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
}

// Load reads STOREFRONT_* environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Persistence {
	case PersistenceMemory, PersistenceMySQL, PersistenceMongo:
	default:
		return errors.Errorf("unknown persistence %q", c.Persistence)
	}
	if c.FeedWorkers < 1 {
		return errors.New("feed workers must be at least 1")
	}
	if c.FeedQueueSize < 1 {
		return errors.New("feed queue size must be at least 1")
	}
	return nil
}

// Brokers splits the comma separated broker list, ignoring blanks.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// CheckoutAtomic reports whether checkout really runs as a unit of work. MongoDB only provides
// one when multi-document transactions are enabled.
func (c Config) CheckoutAtomic() bool {
	if !c.AtomicCheckout {
		return false
	}
	return c.Persistence != PersistenceMongo || c.MongoTransactions
}

// IdempotencyEnabled reports whether Idempotency-Key headers are honoured. The in-memory store
// carries its own guard, the database modes need redis.
func (c Config) IdempotencyEnabled() bool {
	return c.Persistence == PersistenceMemory || c.RedisAddr != ""
}
