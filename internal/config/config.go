package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Transports supported by TRANSPORT.
const (
	TransportWhatsApp = "whatsapp"
	TransportTelegram = "telegram"
	TransportTwilio   = "twilio"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Transport     string `envconfig:"TRANSPORT" default:"whatsapp"` // whatsapp|telegram|twilio
	DBPath        string `envconfig:"DB_PATH" default:"./data/whatsbotx.db"`
	SessionDBPath string `envconfig:"SESSION_DB_PATH" default:"./data/sessions/whatsbotx.db"` // whatsapp device store
	BotToken      string `envconfig:"BOT_TOKEN"`                                              // telegram

	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `envconfig:"TWILIO_WHATSAPP_FROM"` // whatsapp:+14155238886
	TwilioWebhookURL string `envconfig:"TWILIO_WEBHOOK_URL"`   // public URL used for signature checks

	Prefix          string `envconfig:"BOT_PREFIX" default:"/"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	LogFormat       string `envconfig:"LOG_FORMAT" default:"json"` // json|console
	HTTPAddr        string `envconfig:"HTTP_ADDR" default:":3001"`
	APIEnabled      bool   `envconfig:"API_ENABLED" default:"true"`
	DefaultTZ       string `envconfig:"DEFAULT_TZ" default:"UTC"`
	DefaultLanguage string `envconfig:"DEFAULT_LANGUAGE" default:"en"`
	GreetNonCommand bool   `envconfig:"GREET_NON_COMMANDS" default:"true"`

	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"10"`

	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	SendTimeout        time.Duration `envconfig:"SEND_TIMEOUT" default:"15s"`
	ReconnectDelay     time.Duration `envconfig:"RECONNECT_DELAY" default:"5s"`
	ReconnectMaxDelay  time.Duration `envconfig:"RECONNECT_MAX_DELAY" default:"2m"`
	AuthTimeout        time.Duration `envconfig:"AUTH_TIMEOUT" default:"10s"`
	HealthPollInterval time.Duration `envconfig:"HEALTH_POLL_INTERVAL" default:"250ms"`

	InboxSize        int           `envconfig:"INBOX_SIZE" default:"16"`
	InboxIdleTimeout time.Duration `envconfig:"INBOX_IDLE_TIMEOUT" default:"2m"`
	HandlerTimeout   time.Duration `envconfig:"HANDLER_TIMEOUT" default:"30s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	BulkSendPause    time.Duration `envconfig:"BULK_SEND_PAUSE" default:"1s"`
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field requirements envconfig tags cannot express.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWhatsApp:
		if c.SessionDBPath == "" {
			return fmt.Errorf("SESSION_DB_PATH cannot be empty")
		}
	case TransportTelegram:
		if c.BotToken == "" {
			return fmt.Errorf("BOT_TOKEN is required for the telegram transport")
		}
	case TransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFrom == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_WHATSAPP_FROM are required for the twilio transport")
		}
		if !c.APIEnabled {
			return fmt.Errorf("the twilio transport receives messages over HTTP; API_ENABLED must be true")
		}
	default:
		return fmt.Errorf("unknown TRANSPORT %q", c.Transport)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Prefix == "" {
		return fmt.Errorf("BOT_PREFIX cannot be empty")
	}
	if c.RateLimitWindow <= 0 || c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW and RATE_LIMIT_MAX must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("INBOX_SIZE must be > 0")
	}
	if c.ReconnectDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectDelay {
		return fmt.Errorf("RECONNECT_DELAY must be > 0 and <= RECONNECT_MAX_DELAY")
	}
	return nil
}
