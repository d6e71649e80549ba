package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// AppConfig encapsulates all runtime configuration knobs.
type AppConfig struct {
	App      AppSettings
	HTTP     HTTPSettings
	Log      LogSettings
	Database DatabaseSettings
	Redis    RedisSettings
	Audit    AuditSettings
	AFIP     AFIPSettings
}

type AppSettings struct {
	Name        string
	Version     string
	Environment string
}

type HTTPSettings struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LogSettings struct {
	Level string
}

type DatabaseSettings struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisSettings enables the shared ticket store and the distributed numbering lock.
// When disabled both fall back to in-process implementations. LockTTL bounds how long a
// crashed holder blocks numbering; live holders keep extending it.
type RedisSettings struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type AuditSettings struct {
	Enabled         bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
}

// AFIPSettings configures the issuer and the authority web services.
type AFIPSettings struct {
	Production        bool
	IssuerTaxID       string `validate:"required,len=11,numeric"`
	IssuerName        string `validate:"required"`
	IssuerVatCategory string `validate:"required"`
	DefaultSalesPoint int    `validate:"gt=0,lt=100000"`
	CertPath          string `validate:"required"`
	KeyPath           string `validate:"required"`

	// Optional endpoint overrides; empty means the environment default.
	WSAAURL   string `validate:"omitempty,url"`
	WSFEURL   string `validate:"omitempty,url"`
	PadronURL string `validate:"omitempty,url"`

	TicketSafetyMargin time.Duration `validate:"gt=0"`
	RequestTimeout     time.Duration `validate:"gt=0"`
	OperationTimeout   time.Duration `validate:"gt=0"`
	CatalogTTL         time.Duration
	RegistryCacheTTL   time.Duration
	BreakerMaxFailures int
	BreakerCooldown    time.Duration
}

// Endpoints holds the resolved authority service URLs.
type Endpoints struct {
	WSAA   string
	WSFE   string
	Padron string
}

var (
	productionEndpoints = Endpoints{
		WSAA:   "https://wsaa.afip.gov.ar/ws/services/LoginCms",
		WSFE:   "https://servicios1.afip.gov.ar/wsfev1/service.asmx",
		Padron: "https://aws.afip.gov.ar/sr-padron/webservices/personaServiceA5",
	}
	sandboxEndpoints = Endpoints{
		WSAA:   "https://wsaahomo.afip.gov.ar/ws/services/LoginCms",
		WSFE:   "https://wswhomo.afip.gov.ar/wsfev1/service.asmx",
		Padron: "https://awshomo.afip.gov.ar/sr-padron/webservices/personaServiceA5",
	}
)

// Endpoints returns the production or sandbox URLs with any overrides applied.
func (a AFIPSettings) Endpoints() Endpoints {
	e := sandboxEndpoints
	if a.Production {
		e = productionEndpoints
	}
	if a.WSAAURL != "" {
		e.WSAA = a.WSAAURL
	}
	if a.WSFEURL != "" {
		e.WSFE = a.WSFEURL
	}
	if a.PadronURL != "" {
		e.Padron = a.PadronURL
	}
	return e
}

// CheckCredentials verifies that the certificate and key files are readable.
func (a AFIPSettings) CheckCredentials() error {
	for name, path := range map[string]string{"AFIP_CERT_PATH": a.CertPath, "AFIP_KEY_PATH": a.KeyPath} {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("invalid config: %s %q is not readable: %w", name, path, err)
		}
		_ = f.Close()
	}
	return nil
}

// Load resolves the application configuration from environment variables.
// It first attempts to load variables from a .env file if it exists.
// Environment variables set in the system take precedence over .env file values.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		App: AppSettings{
			Name:        getEnv("APP_NAME", "ms_facturacion_afip"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Environment: getEnv("APP_ENV", "local"),
		},
		HTTP: HTTPSettings{
			Port:            getEnvAsInt("APP_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogSettings{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseSettings{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Database:        getEnv("DB_NAME", "ms_facturacion_afip"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisSettings{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 2*time.Minute),
		},
		Audit: AuditSettings{
			Enabled:         getEnvAsBool("AUDIT_ENABLED", true),
			LogRequestBody:  getEnvAsBool("AUDIT_LOG_REQUEST_BODY", true),
			LogResponseBody: getEnvAsBool("AUDIT_LOG_RESPONSE_BODY", true),
			MaxBodySize:     getEnvAsInt("AUDIT_MAX_BODY_SIZE", 102400),
		},
		AFIP: AFIPSettings{
			Production:         getEnvAsBool("AFIP_PRODUCTION", false),
			IssuerTaxID:        strings.ReplaceAll(strings.TrimSpace(os.Getenv("AFIP_CUIT")), "-", ""),
			IssuerName:         strings.TrimSpace(os.Getenv("AFIP_RAZON_SOCIAL")),
			IssuerVatCategory:  getEnv("AFIP_CONDICION_IVA", "RESPONSABLE_INSCRIPTO"),
			DefaultSalesPoint:  getEnvAsInt("AFIP_PUNTO_VENTA", 1),
			CertPath:           strings.TrimSpace(os.Getenv("AFIP_CERT_PATH")),
			KeyPath:            strings.TrimSpace(os.Getenv("AFIP_KEY_PATH")),
			WSAAURL:            strings.TrimSpace(os.Getenv("AFIP_WSAA_URL")),
			WSFEURL:            strings.TrimSpace(os.Getenv("AFIP_WSFE_URL")),
			PadronURL:          strings.TrimSpace(os.Getenv("AFIP_PADRON_URL")),
			TicketSafetyMargin: getEnvAsDuration("AFIP_TICKET_SAFETY_MARGIN", time.Hour),
			RequestTimeout:     getEnvAsDuration("AFIP_REQUEST_TIMEOUT", 30*time.Second),
			OperationTimeout:   getEnvAsDuration("AFIP_OPERATION_TIMEOUT", 2*time.Minute),
			CatalogTTL:         getEnvAsDuration("AFIP_CATALOG_TTL", 12*time.Hour),
			RegistryCacheTTL:   getEnvAsDuration("AFIP_REGISTRY_CACHE_TTL", 24*time.Hour),
			BreakerMaxFailures: getEnvAsInt("AFIP_BREAKER_MAX_FAILURES", 5),
			BreakerCooldown:    getEnvAsDuration("AFIP_BREAKER_COOLDOWN", 30*time.Second),
		},
	}

	if err := validateAFIP(cfg.AFIP); err != nil {
		return cfg, err
	}
	if cfg.Audit.MaxBodySize <= 0 {
		return cfg, errors.New("invalid config: AUDIT_MAX_BODY_SIZE must be greater than 0")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return cfg, errors.New("invalid config: REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	// The numbering lock covers a last-number query and a submission.
	if minTTL := 3 * cfg.AFIP.RequestTimeout; cfg.Redis.Enabled && cfg.Redis.LockTTL < minTTL {
		return cfg, fmt.Errorf("invalid config: REDIS_LOCK_TTL must be at least %s (3 x AFIP_REQUEST_TIMEOUT), got %s",
			minTTL, cfg.Redis.LockTTL)
	}

	return cfg, nil
}

var envNames = map[string]string{
	"IssuerTaxID":        "AFIP_CUIT",
	"IssuerName":         "AFIP_RAZON_SOCIAL",
	"IssuerVatCategory":  "AFIP_CONDICION_IVA",
	"DefaultSalesPoint":  "AFIP_PUNTO_VENTA",
	"CertPath":           "AFIP_CERT_PATH",
	"KeyPath":            "AFIP_KEY_PATH",
	"WSAAURL":            "AFIP_WSAA_URL",
	"WSFEURL":            "AFIP_WSFE_URL",
	"PadronURL":          "AFIP_PADRON_URL",
	"TicketSafetyMargin": "AFIP_TICKET_SAFETY_MARGIN",
	"RequestTimeout":     "AFIP_REQUEST_TIMEOUT",
	"OperationTimeout":   "AFIP_OPERATION_TIMEOUT",
}

func validateAFIP(a AFIPSettings) error {
	err := validator.New().Struct(a)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := envNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		problems = append(problems, fmt.Sprintf("%s failed %q", name, fe.Tag()))
	}
	return errors.New("invalid config: " + strings.Join(problems, ", "))
}

// Address returns the HTTP listen address in host:port form.
func (h HTTPSettings) Address() string {
	return fmt.Sprintf(":%d", h.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
