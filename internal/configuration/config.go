package configuration

import (
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"prayerreminder/internal/logger"
	"prayerreminder/internal/model"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"
)

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageMongo  = "mongo"
)

type Config struct {
	ServerAddress    string
	ControlSecretKey jwk.Key `json:"-"`
	LogLevel         logger.Level
	LogToFile        bool

	SchedulerBaseURL string
	RequestTimeout   time.Duration

	OneSignalAppID  string
	OneSignalAPIURL string
	OneSignalAPIKey string `json:"-"`

	PushToken              string `json:"-"`
	PushTokenType          string
	NotificationsPermitted bool

	StorageBackend string
	RedisAddr      string
	RedisPassword  string `json:"-"`
	RedisDB        int
	MongoURI       string `json:"-"`

	BaseRetryDelay           time.Duration
	MaxAttempts              int
	SubscriptionPollInterval time.Duration
	SubscriptionMaxPolls     int

	SettleDelay              time.Duration
	MissingRegistrationDelay time.Duration
	RefreshSubscriptionDelay time.Duration
	StateLogDelay            time.Duration

	RegistrationCheckInterval time.Duration

	DefaultWindow model.NotificationWindow
}

type tomlConfig struct {
	ServerAddress    string `toml:"server_address"`
	ControlSecretKey string `toml:"control_secret_key"`
	LogLevel         string `toml:"log_level"`
	LogToFile        bool   `toml:"log_to_file"`

	SchedulerBaseURL string `toml:"scheduler_base_url"`
	RequestTimeout   string `toml:"request_timeout"`

	OneSignalAppID  string `toml:"onesignal_app_id"`
	OneSignalAPIURL string `toml:"onesignal_api_url"`
	OneSignalAPIKey string `toml:"onesignal_api_key"`

	PushToken              string `toml:"push_token"`
	PushTokenType          string `toml:"push_token_type"`
	NotificationsPermitted *bool  `toml:"notifications_permitted"`

	StorageBackend string `toml:"storage_backend"`
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	MongoURI       string `toml:"mongo_uri"`

	BaseRetryDelay           string `toml:"base_retry_delay"`
	MaxAttempts              int    `toml:"max_attempts"`
	SubscriptionPollInterval string `toml:"subscription_poll_interval"`
	SubscriptionMaxPolls     int    `toml:"subscription_max_polls"`

	SettleDelay              string `toml:"settle_delay"`
	MissingRegistrationDelay string `toml:"missing_registration_delay"`
	RefreshSubscriptionDelay string `toml:"refresh_subscription_delay"`
	StateLogDelay            string `toml:"state_log_delay"`

	RegistrationCheckInterval string `toml:"registration_check_interval"`

	DefaultTimezone  string `toml:"default_timezone"`
	DefaultStartTime string `toml:"default_start_time"`
	DefaultEndTime   string `toml:"default_end_time"`
}

// LoadDotEnv loads the given .env files into the process environment. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		err := godotenv.Load(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "failed to load env file with path: %s", p)
		}
	}
	return nil
}

// applyEnv overrides deployment specific values from PRAYER_* variables.
func applyEnv(tc *tomlConfig) error {
	overrides := map[string]*string{
		"PRAYER_SCHEDULER_URL":     &tc.SchedulerBaseURL,
		"PRAYER_ONESIGNAL_APP_ID":  &tc.OneSignalAppID,
		"PRAYER_ONESIGNAL_API_KEY": &tc.OneSignalAPIKey,
		"PRAYER_REDIS_ADDR":        &tc.RedisAddr,
		"PRAYER_MONGO_URI":         &tc.MongoURI,
		"PRAYER_PUSH_TOKEN":        &tc.PushToken,
		"PRAYER_CONTROL_SECRET":    &tc.ControlSecretKey,
		"PRAYER_LOG_LEVEL":         &tc.LogLevel,
		"PRAYER_STORAGE_BACKEND":   &tc.StorageBackend,
	}
	for env, dst := range overrides {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("PRAYER_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return errors.Errorf("invalid PRAYER_REDIS_DB: %q", v)
		}
		tc.RedisDB = db
	}
	return nil
}

func parseDuration(name string, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse %s", name)
	}
	if d < 0 {
		return 0, errors.Errorf("%s must not be negative (%v)", name, d)
	}
	return d, nil
}

func GetConfig(path string) (*Config, error) {
	var tc tomlConfig
	_, err := toml.DecodeFile(path, &tc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode toml file with path: %s", path)
	}
	if err = applyEnv(&tc); err != nil {
		return nil, err
	}
	return tc.toConfig()
}

func (tc tomlConfig) toConfig() (*Config, error) {
	var err error
	c := &Config{
		ServerAddress:          tc.ServerAddress,
		LogToFile:              tc.LogToFile,
		SchedulerBaseURL:       tc.SchedulerBaseURL,
		OneSignalAppID:         tc.OneSignalAppID,
		OneSignalAPIURL:        tc.OneSignalAPIURL,
		OneSignalAPIKey:        tc.OneSignalAPIKey,
		PushToken:              tc.PushToken,
		PushTokenType:          tc.PushTokenType,
		StorageBackend:         tc.StorageBackend,
		RedisAddr:              tc.RedisAddr,
		RedisPassword:          tc.RedisPassword,
		RedisDB:                tc.RedisDB,
		MongoURI:               tc.MongoURI,
		MaxAttempts:            tc.MaxAttempts,
		SubscriptionMaxPolls:   tc.SubscriptionMaxPolls,
		NotificationsPermitted: tc.NotificationsPermitted == nil || *tc.NotificationsPermitted,
	}

	if c.ServerAddress == "" {
		c.ServerAddress = "localhost:8899"
	}
	if tc.LogLevel == "" {
		tc.LogLevel = "INFO"
	}
	if c.LogLevel, err = logger.ParseLevel(tc.LogLevel); err != nil {
		return nil, errors.Wrap(err, "failed to parse log_level")
	}

	if c.SchedulerBaseURL == "" {
		return nil, errors.New("scheduler_base_url is not set")
	}
	if u, err := url.Parse(c.SchedulerBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("scheduler_base_url is not an absolute URL: %q", c.SchedulerBaseURL)
	}
	if c.OneSignalAppID == "" {
		return nil, errors.New("onesignal_app_id is not set")
	}
	if c.OneSignalAPIURL == "" {
		c.OneSignalAPIURL = "https://api.onesignal.com"
	}
	if c.PushTokenType == "" {
		c.PushTokenType = "AndroidPush"
	}

	if tc.ControlSecretKey == "" {
		return nil, errors.New("control_secret_key is not set")
	}
	if c.ControlSecretKey, err = jwk.FromRaw([]byte(tc.ControlSecretKey)); err != nil {
		return nil, errors.Wrap(err, "failed to create key from control_secret_key")
	}

	switch c.StorageBackend {
	case "":
		c.StorageBackend = StorageMemory
	case StorageMemory, StorageRedis, StorageMongo:
	default:
		return nil, errors.Errorf("unknown storage_backend: %q", c.StorageBackend)
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.MongoURI == "" {
		c.MongoURI = "mongodb://localhost:27017"
	}

	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return nil, errors.Errorf("max_attempts out of range (%d), allowed: 1..10", c.MaxAttempts)
	}
	if c.SubscriptionMaxPolls <= 0 {
		c.SubscriptionMaxPolls = 45
	}

	durations := []struct {
		name string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"request_timeout", tc.RequestTimeout, 15 * time.Second, &c.RequestTimeout},
		{"base_retry_delay", tc.BaseRetryDelay, 5 * time.Second, &c.BaseRetryDelay},
		{"subscription_poll_interval", tc.SubscriptionPollInterval, time.Second, &c.SubscriptionPollInterval},
		{"settle_delay", tc.SettleDelay, time.Second, &c.SettleDelay},
		{"missing_registration_delay", tc.MissingRegistrationDelay, 5 * time.Second, &c.MissingRegistrationDelay},
		{"refresh_subscription_delay", tc.RefreshSubscriptionDelay, 10 * time.Second, &c.RefreshSubscriptionDelay},
		{"state_log_delay", tc.StateLogDelay, 3 * time.Second, &c.StateLogDelay},
		{"registration_check_interval", tc.RegistrationCheckInterval, 5 * time.Minute, &c.RegistrationCheckInterval},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.name, d.raw, d.def); err != nil {
			return nil, err
		}
	}
	if c.BaseRetryDelay == 0 {
		return nil, errors.New("base_retry_delay must be positive")
	}
	if c.RegistrationCheckInterval < 15*time.Second {
		return nil, errors.Errorf("registration_check_interval too short (%v), minimum interval: 15s", c.RegistrationCheckInterval)
	}

	c.DefaultWindow = model.NotificationWindow{
		Timezone:             orDefault(tc.DefaultTimezone, "UTC"),
		StartTime:            orDefault(tc.DefaultStartTime, "08:00"),
		EndTime:              orDefault(tc.DefaultEndTime, "22:00"),
		NotificationsEnabled: true,
	}
	if err = c.DefaultWindow.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid default notification window")
	}
	return c, nil
}

func orDefault(s string, def string) string {
	if s == "" {
		return def
	}
	return s
}
