// Package forwarding holds the persisted state shared with the companion
// application: the forwarding configuration, the processed-key window, and
// the forwarded-OTP record feed. Key names and JSON field names are part of
// that contract and must not change.
package forwarding

import (
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"otplink/internal/store"
)

// ErrInvalidConfig rejects a sync payload that is not valid JSON.
var ErrInvalidConfig = errors.New("configuration payload is not valid JSON")

// Storage keys shared with the companion application.
const (
	ConfigKey    = "otp_link_config"
	ProcessedKey = "processed_otps"
	RecordsKey   = "otp_link_records"
)

// MailSettings carries the SMTP credentials and recipient for forwarding.
// An absent settings block or empty recipient disables forwarding without
// being an error.
type MailSettings struct {
	SMTPHost  string `json:"smtpHost"`
	SMTPPort  int    `json:"smtpPort"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Recipient string `json:"recipient"`
}

// Configuration is an immutable snapshot of the forwarding rules, produced
// fresh from the store on every inbound message and discarded after use.
type Configuration struct {
	Keywords        []string      `json:"keywords"`
	OtpMinLength    int           `json:"otpMinLength"`
	OtpMaxLength    int           `json:"otpMaxLength"`
	ListenerEnabled bool          `json:"smsListenerEnabled"`
	MailSettings    *MailSettings `json:"emailSettings"`
}

// MailConfigured reports whether a forwarding recipient is set.
func (c *Configuration) MailConfigured() bool {
	return c.MailSettings != nil && c.MailSettings.Recipient != ""
}

// ConfigStore loads forwarding configuration snapshots from the durable
// store.
type ConfigStore struct {
	kv store.KV
}

func NewConfigStore(kv store.KV) *ConfigStore {
	return &ConfigStore{kv: kv}
}

// Load reads and decodes the current configuration. A missing blob or
// malformed JSON yields (nil, nil): not configured, not an error to report
// upward. No partial loads; a parse failure discards the whole blob rather
// than mixing defaults with partial data.
func (s *ConfigStore) Load() (*Configuration, error) {
	raw, err := s.kv.Get(ConfigKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		logrus.WithError(err).Warn("failed to read forwarding configuration")
		return nil, nil
	}
	return decodeConfiguration(raw), nil
}

func decodeConfiguration(raw string) *Configuration {
	cfg := Configuration{
		OtpMinLength:    4,
		OtpMaxLength:    8,
		ListenerEnabled: true,
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		logrus.WithError(err).Warn("malformed forwarding configuration, treating as not configured")
		return nil
	}
	if cfg.OtpMinLength < 1 || cfg.OtpMaxLength < cfg.OtpMinLength {
		logrus.WithFields(logrus.Fields{
			"min": cfg.OtpMinLength,
			"max": cfg.OtpMaxLength,
		}).Warn("invalid OTP length bounds, treating as not configured")
		return nil
	}
	return &cfg
}

// Save stores the raw configuration blob with a synchronous commit, so the
// companion app's sync call only succeeds once the write is durable. The blob
// is validated as JSON but stored verbatim.
func (s *ConfigStore) Save(raw string) error {
	if !json.Valid([]byte(raw)) {
		return ErrInvalidConfig
	}
	return s.kv.PutSync(ConfigKey, raw)
}
