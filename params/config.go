package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Redis struct {
	Addr     string
	Password string
}

type Streams struct {
	OrdersKey     string // inbound order intents
	FillsKey      string
	TradesKey     string
	StatusKey     string
	DepthKey      string
	ConsumerGroup string
	ConsumerName  string
}

type Engine struct {
	SnapshotInterval time.Duration
	MetricsInterval  time.Duration
	// SessionOffset shifts UTC into the exchange session zone when deriving
	// minute keys and trading days. The production deployment runs at +9h.
	SessionOffset time.Duration
	NotifierQueue int
}

type Aggregator struct {
	PollInterval time.Duration
	S3Bucket     string
	AWSRegion    string
}

type Config struct {
	Redis      Redis
	Streams    Streams
	Engine     Engine
	Aggregator Aggregator

	RPCAddr  string
	WSAddr   string
	DataDir  string
	LogLevel string
}

func Default() Config {
	return Config{
		Redis: Redis{Addr: "localhost:6379"},
		Streams: Streams{
			OrdersKey:     "orders",
			FillsKey:      "fills",
			TradesKey:     "trades",
			StatusKey:     "order-status",
			DepthKey:      "depth",
			ConsumerGroup: "matching-engine",
			ConsumerName:  "engine-1",
		},
		Engine: Engine{
			SnapshotInterval: 10 * time.Second,
			MetricsInterval:  30 * time.Second,
			SessionOffset:    9 * time.Hour,
			NotifierQueue:    4096,
		},
		Aggregator: Aggregator{
			PollInterval: 1 * time.Second,
			S3Bucket:     "novaex-candles",
			AWSRegion:    "ap-northeast-2",
		},
		RPCAddr:  ":8090",
		WSAddr:   ":8080",
		DataDir:  "data",
		LogLevel: "INFO",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("ORDERS_STREAM"); v != "" {
		cfg.Streams.OrdersKey = v
	}
	if v := os.Getenv("FILLS_STREAM"); v != "" {
		cfg.Streams.FillsKey = v
	}
	if v := os.Getenv("TRADES_STREAM"); v != "" {
		cfg.Streams.TradesKey = v
	}
	if v := os.Getenv("STATUS_STREAM"); v != "" {
		cfg.Streams.StatusKey = v
	}
	if v := os.Getenv("DEPTH_STREAM"); v != "" {
		cfg.Streams.DepthKey = v
	}
	if v := os.Getenv("CONSUMER_GROUP"); v != "" {
		cfg.Streams.ConsumerGroup = v
	}
	if v := os.Getenv("CONSUMER_NAME"); v != "" {
		cfg.Streams.ConsumerName = v
	}

	if ms := envInt("SNAPSHOT_INTERVAL_MS"); ms > 0 {
		cfg.Engine.SnapshotInterval = time.Duration(ms) * time.Millisecond
	}
	if v, ok := os.LookupEnv("SESSION_UTC_OFFSET_HOURS"); ok {
		if h, err := strconv.Atoi(v); err == nil {
			cfg.Engine.SessionOffset = time.Duration(h) * time.Hour
		}
	}
	if n := envInt("NOTIFIER_QUEUE_SIZE"); n > 0 {
		cfg.Engine.NotifierQueue = n
	}
	if ms := envInt("POLL_INTERVAL_MS"); ms > 0 {
		cfg.Aggregator.PollInterval = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Aggregator.S3Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Aggregator.AWSRegion = v
	}
	if v := os.Getenv("RPC_ADDR"); v != "" {
		cfg.RPCAddr = v
	}
	if v := os.Getenv("WS_ADDR"); v != "" {
		cfg.WSAddr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
