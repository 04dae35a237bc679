package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"studioflow/internal/models"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Booking      BookingConfig      `yaml:"booking"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Google       GoogleConfig       `yaml:"google"`
	Exports      ExportConfig       `yaml:"exports"`
	Rooms        []RoomSeed         `yaml:"rooms"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	HeaderUserID string         `yaml:"header_user_id"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// BookingConfig holds the booking policies.
type BookingConfig struct {
	RespectRoomAvailability bool          `yaml:"respect_room_availability"`
	AllowPriceOverride      bool          `yaml:"allow_price_override"`
	MaxAdvanceDays          int           `yaml:"max_advance_days"`
	StoreRetries            int           `yaml:"store_retries"`
	CreateRateLimit         int64         `yaml:"create_rate_limit"`
	CreateRateWindow        time.Duration `yaml:"create_rate_window"`
}

type SubscriptionConfig struct {
	TrialDays     int          `yaml:"trial_days"`
	PeriodDays    int          `yaml:"period_days"`
	DefaultPlan   string       `yaml:"default_plan"`
	Currency      string       `yaml:"currency"`
	RequireActive bool         `yaml:"require_active"`
	Plans         []PlanConfig `yaml:"plans"`
}

type PlanConfig struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Amount      string   `yaml:"amount" json:"price"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Features    []string `yaml:"features" json:"features,omitempty"`
}

type WebhookConfig struct {
	Secret          string        `yaml:"secret"`
	SignatureHeader string        `yaml:"signature_header"`
	DedupTTL        time.Duration `yaml:"dedup_ttl"`
}

// RoomSeed is a catalog entry loaded from configuration.
type RoomSeed struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Capacity    int    `yaml:"capacity"`
	HourlyPrice string `yaml:"hourly_price"`
	Description string `yaml:"description"`
	IsAvailable *bool  `yaml:"is_available"`
	SortOrder   int64  `yaml:"sort_order"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	TimeZone    string `yaml:"timezone"`
}

type TelegramConfig struct {
	BotToken      string  `yaml:"bot_token"`
	NotifyChatIDs []int64 `yaml:"notify_chat_ids"`
	Debug         bool    `yaml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Subscription.TrialDays < 0 || c.Subscription.PeriodDays < 0 {
		return errors.New("subscription periods must not be negative")
	}
	if _, ok := c.Plan(c.Subscription.DefaultPlan); !ok {
		return fmt.Errorf("default plan %q is not configured", c.Subscription.DefaultPlan)
	}
	for _, p := range c.Subscription.Plans {
		if _, err := decimal.NewFromString(p.Amount); err != nil {
			return fmt.Errorf("plan %q has invalid amount %q", p.ID, p.Amount)
		}
	}
	if _, err := time.LoadLocation(c.App.TimeZone); err != nil {
		return fmt.Errorf("invalid app.timezone %q: %w", c.App.TimeZone, err)
	}
	if c.Booking.MaxAdvanceDays < 0 {
		return errors.New("booking.max_advance_days must not be negative")
	}

	_, err := BuildRooms(c.Rooms)
	return err
}

// Location returns the zone used for dates in exports and notifications.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Plan looks up a configured plan by id.
func (c *Config) Plan(id string) (PlanConfig, bool) {
	for _, p := range c.Subscription.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return PlanConfig{}, false
}

// BuildRooms validates room seeds and converts them to catalog rooms.
func BuildRooms(seeds []RoomSeed) ([]models.Room, error) {
	rooms := make([]models.Room, 0, len(seeds))
	ids := make(map[int64]bool)
	for _, seed := range seeds {
		if seed.ID == 0 {
			return nil, fmt.Errorf("room '%s' has invalid ID 0", seed.Name)
		}
		if ids[seed.ID] {
			return nil, fmt.Errorf("duplicate room ID found: %d", seed.ID)
		}
		ids[seed.ID] = true

		price, err := decimal.NewFromString(seed.HourlyPrice)
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("room %d has invalid hourly price %q", seed.ID, seed.HourlyPrice)
		}

		available := true
		if seed.IsAvailable != nil {
			available = *seed.IsAvailable
		}
		rooms = append(rooms, models.Room{
			ID:          seed.ID,
			Name:        seed.Name,
			Capacity:    seed.Capacity,
			HourlyPrice: price.Round(2),
			Description: seed.Description,
			IsAvailable: available,
			SortOrder:   seed.SortOrder,
		})
	}
	return rooms, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "studioflow"
	}
	if c.App.TimeZone == "" {
		c.App.TimeZone = "UTC"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.Auth.HeaderUserID == "" {
		c.API.Auth.HeaderUserID = "x-user-id"
	}

	if c.Booking.StoreRetries == 0 {
		c.Booking.StoreRetries = 3
	}
	if c.Booking.CreateRateWindow == 0 {
		c.Booking.CreateRateWindow = time.Minute
	}

	if c.Subscription.TrialDays == 0 {
		c.Subscription.TrialDays = models.DefaultTrialDays
	}
	if c.Subscription.PeriodDays == 0 {
		c.Subscription.PeriodDays = models.DefaultBillingPeriodDays
	}
	if c.Subscription.DefaultPlan == "" {
		c.Subscription.DefaultPlan = models.DefaultPlan
	}
	if c.Subscription.Currency == "" {
		c.Subscription.Currency = models.DefaultCurrency
	}
	if len(c.Subscription.Plans) == 0 {
		c.Subscription.Plans = []PlanConfig{
			{ID: "studioflow_basic", Name: "StudioFlow Básico", Amount: "19.99"},
			{ID: "studioflow_pro", Name: "StudioFlow Pro", Amount: "39.99"},
		}
	}

	if c.Webhook.SignatureHeader == "" {
		c.Webhook.SignatureHeader = "x-signature"
	}
	if c.Webhook.DedupTTL == 0 {
		c.Webhook.DedupTTL = 7 * 24 * time.Hour
	}
}
