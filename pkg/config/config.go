package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "SWAPDESK"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "SWAPDESK_DB_DSN"
	EnvDBHost = "SWAPDESK_DB_HOST"
	EnvDBUser = "SWAPDESK_DB_USER"
	EnvDBName = "SWAPDESK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	Vault         VaultConfig
	Escrow        EscrowConfig
	Paystack      PaystackConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SWAPDESK_APP_ENV" required:"true"`
	Port         string `envconfig:"SWAPDESK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SWAPDESK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SWAPDESK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SWAPDESK_DB_DSN"`
	Driver string `envconfig:"SWAPDESK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SWAPDESK_DB_HOST"`
	LegacyPort     int    `envconfig:"SWAPDESK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SWAPDESK_DB_USER"`
	LegacyPassword string `envconfig:"SWAPDESK_DB_PASSWORD"`
	LegacyName     string `envconfig:"SWAPDESK_DB_NAME"`
	LegacySSLMode  string `envconfig:"SWAPDESK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SWAPDESK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SWAPDESK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SWAPDESK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SWAPDESK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SWAPDESK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SWAPDESK_REDIS_ADDR"`
	Password     string        `envconfig:"SWAPDESK_REDIS_PASSWORD"`
	DB           int           `envconfig:"SWAPDESK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SWAPDESK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SWAPDESK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SWAPDESK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SWAPDESK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SWAPDESK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"SWAPDESK_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"SWAPDESK_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"SWAPDESK_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"SWAPDESK_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"SWAPDESK_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"SWAPDESK_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"SWAPDESK_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"SWAPDESK_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"SWAPDESK_ARGON_KEY_LEN" default:"32"`
}

// VaultConfig holds the server-side key material for the credential vault.
// The master key is never written to storage; per-record keys are derived
// from it with Argon2id and a random salt.
type VaultConfig struct {
	MasterKey        string `envconfig:"SWAPDESK_VAULT_MASTER_KEY" required:"true"`
	KeyID            string `envconfig:"SWAPDESK_VAULT_KEY_ID" default:"v1"`
	ArgonMemoryKB    int    `envconfig:"SWAPDESK_VAULT_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int    `envconfig:"SWAPDESK_VAULT_ARGON_TIME" default:"3"`
	ArgonParallelism int    `envconfig:"SWAPDESK_VAULT_ARGON_PARALLELISM" default:"4"`
}

type EscrowConfig struct {
	RevealTTL            time.Duration `envconfig:"SWAPDESK_ESCROW_REVEAL_TTL" default:"10m"`
	PaymentWindow        time.Duration `envconfig:"SWAPDESK_ESCROW_PAYMENT_WINDOW" default:"24h"`
	CommissionPercent    int           `envconfig:"SWAPDESK_ESCROW_COMMISSION_PERCENT" default:"10"`
	DisputeReasonMinimum int           `envconfig:"SWAPDESK_ESCROW_DISPUTE_REASON_MIN" default:"10"`
}

type PaystackConfig struct {
	SecretKey string        `envconfig:"SWAPDESK_PAYSTACK_SECRET_KEY"`
	BaseURL   string        `envconfig:"SWAPDESK_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	Timeout   time.Duration `envconfig:"SWAPDESK_PAYSTACK_TIMEOUT" default:"15s"`
	// NGN per USD used when quoting kobo amounts to the gateway.
	USDToNGNRate string `envconfig:"SWAPDESK_PAYSTACK_USD_NGN_RATE" default:"1550"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"SWAPDESK_AUTH_RL_LOGIN_WINDOW" default:"5m"`
	LoginIPLimit       int           `envconfig:"SWAPDESK_AUTH_RL_LOGIN_IP_LIMIT" default:"20"`
	LoginEmailLimit    int           `envconfig:"SWAPDESK_AUTH_RL_LOGIN_EMAIL_LIMIT" default:"8"`
	RegisterWindow     time.Duration `envconfig:"SWAPDESK_AUTH_RL_REGISTER_WINDOW" default:"1h"`
	RegisterIPLimit    int           `envconfig:"SWAPDESK_AUTH_RL_REGISTER_IP_LIMIT" default:"10"`
	RegisterEmailLimit int           `envconfig:"SWAPDESK_AUTH_RL_REGISTER_EMAIL_LIMIT" default:"3"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SWAPDESK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SWAPDESK_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SWAPDESK_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SWAPDESK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SWAPDESK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EscrowTopic              string `envconfig:"SWAPDESK_PUBSUB_ESCROW_TOPIC" default:"sd-escrow-events"`
	EscrowSubscription       string `envconfig:"SWAPDESK_PUBSUB_ESCROW_SUBSCRIPTION"`
	NotificationTopic        string `envconfig:"SWAPDESK_PUBSUB_NOTIFICATION_TOPIC" default:"sd-notification-events"`
	NotificationSubscription string `envconfig:"SWAPDESK_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SWAPDESK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SWAPDESK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SWAPDESK_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
