package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ini "gopkg.in/ini.v1"
)

func loadFrom(t *testing.T, source string) (*Settings, error) {
	t.Helper()
	cfg, err := ini.Load([]byte(source))
	require.NoError(t, err)
	return Load(cfg)
}

func TestLoadDefaults(t *testing.T) {
	s, err := loadFrom(t, `
[sip]
domain = example.com
username = alice
password = secret
`)
	require.NoError(t, err)

	assert.Equal(t, "example.com", s.SIPDomain())
	assert.Equal(t, "alice", s.SIPUsername())
	assert.Equal(t, "secret", s.SIPPassword())
	assert.Equal(t, 5060, s.SIPPort())
	assert.Equal(t, 0, s.SIPPortRange())
	assert.Equal(t, "", s.PublicAddress())
	assert.Equal(t, float64(3600), s.RegisterExpiry().Seconds())

	assert.True(t, s.FeedbackEnabled())
	assert.Equal(t, "https://external.halef-research.org", s.FeedbackEndpoint())
	assert.Equal(t, "/messenger/socketio/socketio", s.FeedbackPath())

	assert.False(t, s.MetricsEnabled())
	assert.Equal(t, ":9480", s.MetricsListen())
}

func TestLoadExplicitValues(t *testing.T) {
	s, err := loadFrom(t, `
[sip]
domain = sip.example.org
username = bob
password = pw
port = 5070
port_range = 4
public_address = 198.51.100.7
register_expiry = 600

[feedback]
enabled = false
endpoint = https://feedback.example.org
path = /ws

[metrics]
enabled = true
listen = :9999
`)
	require.NoError(t, err)

	assert.Equal(t, 5070, s.SIPPort())
	assert.Equal(t, 4, s.SIPPortRange())
	assert.Equal(t, "198.51.100.7", s.PublicAddress())
	assert.Equal(t, float64(600), s.RegisterExpiry().Seconds())
	assert.False(t, s.FeedbackEnabled())
	assert.Equal(t, "https://feedback.example.org", s.FeedbackEndpoint())
	assert.Equal(t, "/ws", s.FeedbackPath())
	assert.True(t, s.MetricsEnabled())
	assert.Equal(t, ":9999", s.MetricsListen())
}

func TestEnvOverlayWins(t *testing.T) {
	t.Setenv("HALEF_SIP_DOMAIN", "env.example.com")
	t.Setenv("HALEF_SIP_USERNAME", "envuser")
	t.Setenv("HALEF_SIP_PASSWORD", "envpass")

	s, err := loadFrom(t, `
[sip]
domain = example.com
username = alice
password = secret
`)
	require.NoError(t, err)

	assert.Equal(t, "env.example.com", s.SIPDomain())
	assert.Equal(t, "envuser", s.SIPUsername())
	assert.Equal(t, "envpass", s.SIPPassword())
}

func TestLoadMissingIdentity(t *testing.T) {
	_, err := loadFrom(t, `
[sip]
domain = example.com
`)
	require.Error(t, err)

	_, err = loadFrom(t, `
[sip]
username = alice
`)
	require.Error(t, err)
}

func TestLoadBadExpiry(t *testing.T) {
	_, err := loadFrom(t, `
[sip]
domain = example.com
username = alice
register_expiry = -5
`)
	require.Error(t, err)
}
