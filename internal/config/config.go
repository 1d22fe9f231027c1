package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // wake topic announcing new pending deliveries
	DLQTopic        string // dead letter topic for exhausted deliveries
	WorkerChannel   string // NSQ channel name for dispatcher instances
	Enabled         bool   // when false the dispatcher relies on polling only
	PublishDLQ      bool   // whether to publish dead letters to the DLQ topic
}

type Dispatcher struct {
	Workers             int           // concurrent delivery attempts
	PollInterval        time.Duration // bounded worst-case pickup latency
	ClaimBatch          int           // deliveries claimed per poll
	ClaimLease          time.Duration // how long a claim holds before it expires
	MaxAttempts         int           // attempts before a delivery is failed
	BackoffBase         time.Duration // first retry delay
	BackoffCap          time.Duration // ceiling for retry delays
	JitterPercent       float64       // backoff jitter percentage (0.0-1.0)
	PerEndpointInflight int           // max concurrent requests per endpoint
	HTTPTimeout         time.Duration // per-attempt connect+read timeout
	HTTPPort            string        // dispatcher metrics/health port
	SignatureHeader     string        // HTTP header carrying the signature
	TimestampHeader     string        // HTTP header carrying the signing time
	DeliveryHeader      string        // HTTP header carrying the delivery id
}

type Registry struct {
	AllowPrivateHosts bool     // disable the private-address guard (dev only)
	PrivateHostAllow  []string // hostnames exempt from the private-address guard
}

type FakeReceiver struct {
	FailFirstN           int           // number of requests to fail initially
	EndpointSecret       string        // secret for webhook signature verification
	SigningLeewaySeconds int           // allowed timestamp skew in seconds
	ResponseDelayMS      int           // simulated response delay in milliseconds
	Port                 string        // server listen port
	ReadTimeout          time.Duration // HTTP read timeout
	WriteTimeout         time.Duration // HTTP write timeout
	IdleTimeout          time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	DB           DB
	NSQ          NSQ
	Dispatcher   Dispatcher
	Registry     Registry
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "wharfhook"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "wharfhook"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			DLQTopic:        getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "dispatchers"),
			Enabled:         getenvBool("NSQ_ENABLED", true),
			PublishDLQ:      getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		Dispatcher: Dispatcher{
			Workers:             getenvInt("DISPATCH_WORKERS", 8),
			PollInterval:        getenvDuration("POLL_INTERVAL", time.Second),
			ClaimBatch:          getenvInt("CLAIM_BATCH", 50),
			ClaimLease:          getenvDuration("CLAIM_LEASE", time.Minute),
			MaxAttempts:         getenvInt("MAX_ATTEMPTS", 5),
			BackoffBase:         getenvDuration("BACKOFF_BASE", 30*time.Second),
			BackoffCap:          getenvDuration("BACKOFF_CAP", time.Hour),
			JitterPercent:       getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			PerEndpointInflight: getenvInt("PER_ENDPOINT_INFLIGHT", 4),
			HTTPTimeout:         getenvDuration("DELIVERY_HTTP_TIMEOUT", 10*time.Second),
			HTTPPort:            ":" + getenv("DISPATCHER_HTTP_PORT", "8083"),
			SignatureHeader:     getenv("WEBHOOK_SIGNATURE_HEADER", "X-WharfHook-Signature"),
			TimestampHeader:     getenv("WEBHOOK_TIMESTAMP_HEADER", "X-WharfHook-Timestamp"),
			DeliveryHeader:      getenv("WEBHOOK_DELIVERY_HEADER", "X-WharfHook-Delivery"),
		},
		Registry: Registry{
			AllowPrivateHosts: getenvBool("ALLOW_PRIVATE_HOSTS", false),
			PrivateHostAllow:  getenvList("PRIVATE_HOST_ALLOWLIST"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			EndpointSecret:       getenv("ENDPOINT_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			ResponseDelayMS:      getenvInt("RESPONSE_DELAY_MS", 0),
			Port:                 getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
