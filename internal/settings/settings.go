package settings

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	ini "gopkg.in/ini.v1"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	sipDomain      string
	sipUsername    string
	sipPassword    string
	sipPort        int
	sipPortRange   int
	publicAddress  string
	registerExpiry int

	feedbackEnabled  bool
	feedbackEndpoint string
	feedbackPath     string

	metricsEnabled bool
	metricsListen  string
}

// envOverlay lets SIP credentials come from the environment (or an
// optional .env file) instead of sitting in settings.ini.
type envOverlay struct {
	Domain   string `env:"HALEF_SIP_DOMAIN"`
	Username string `env:"HALEF_SIP_USERNAME"`
	Password string `env:"HALEF_SIP_PASSWORD"`
}

// Load reads configuration from ini file, applies environment
// overrides and validates required fields.
func Load(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("sip")
	s.sipDomain = sec.Key("domain").String()
	s.sipUsername = sec.Key("username").String()
	s.sipPassword = sec.Key("password").String()
	s.sipPort = sec.Key("port").MustInt(5060)
	s.sipPortRange = sec.Key("port_range").MustInt(0)
	s.publicAddress = sec.Key("public_address").String()
	s.registerExpiry = sec.Key("register_expiry").MustInt(3600)

	sec = cfg.Section("feedback")
	s.feedbackEnabled = sec.Key("enabled").MustBool(true)
	s.feedbackEndpoint = sec.Key("endpoint").MustString("https://external.halef-research.org")
	s.feedbackPath = sec.Key("path").MustString("/messenger/socketio/socketio")

	sec = cfg.Section("metrics")
	s.metricsEnabled = sec.Key("enabled").MustBool(false)
	s.metricsListen = sec.Key("listen").MustString(":9480")

	// .env is optional, a missing file is not an error
	_ = godotenv.Load()
	overlay := envOverlay{}
	if err := env.Parse(&overlay); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if overlay.Domain != "" {
		s.sipDomain = overlay.Domain
	}
	if overlay.Username != "" {
		s.sipUsername = overlay.Username
	}
	if overlay.Password != "" {
		s.sipPassword = overlay.Password
	}

	if s.sipDomain == "" || s.sipUsername == "" {
		return nil, fmt.Errorf("sip domain and username must be set")
	}
	if s.registerExpiry <= 0 {
		return nil, fmt.Errorf("register_expiry must be positive")
	}

	return s, nil
}

func (s *Settings) SIPDomain() string     { return s.sipDomain }
func (s *Settings) SIPUsername() string   { return s.sipUsername }
func (s *Settings) SIPPassword() string   { return s.sipPassword }
func (s *Settings) SIPPort() int          { return s.sipPort }
func (s *Settings) SIPPortRange() int     { return s.sipPortRange }
func (s *Settings) PublicAddress() string { return s.publicAddress }

func (s *Settings) RegisterExpiry() time.Duration {
	return time.Duration(s.registerExpiry) * time.Second
}

func (s *Settings) FeedbackEnabled() bool    { return s.feedbackEnabled }
func (s *Settings) FeedbackEndpoint() string { return s.feedbackEndpoint }
func (s *Settings) FeedbackPath() string     { return s.feedbackPath }

func (s *Settings) MetricsEnabled() bool   { return s.metricsEnabled }
func (s *Settings) MetricsListen() string  { return s.metricsListen }
