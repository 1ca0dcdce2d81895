// Package pipeline orchestrates OTP detection and forwarding for inbound
// messages. Every invocation walks a strict gate sequence; any unmet gate
// terminates the invocation silently. Nothing here ever propagates an error
// to the collaborator that delivered the message.
package pipeline

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"otplink/internal/forwarding"
	"otplink/internal/metrics"
	"otplink/internal/otp"
)

// MailSender submits a single OTP notification email.
type MailSender interface {
	Send(otp, sender, message string, at time.Time, settings *forwarding.MailSettings) error
}

// Outcome is the terminal state of one pipeline invocation. Outcomes are
// observability data, never errors.
type Outcome string

const (
	OutcomeNotConfigured     Outcome = "not_configured"
	OutcomeListenerDisabled  Outcome = "listener_disabled"
	OutcomeNoKeywordMatch    Outcome = "no_keyword_match"
	OutcomeNoOtpFound        Outcome = "no_otp_found"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeMailNotConfigured Outcome = "mail_not_configured"
	OutcomeSendFailed        Outcome = "send_failed"
	OutcomeForwarded         Outcome = "forwarded"
)

// Pipeline wires the detection, dedup, mail, and record components.
type Pipeline struct {
	configs *forwarding.ConfigStore
	dedup   *forwarding.DedupWindow
	records *forwarding.RecordLog
	sender  MailSender
	metrics *metrics.Metrics

	// inflight holds dedup keys between the dedup check and its commit, so
	// two concurrent deliveries of the same message cannot both pass the
	// check before either commits. Keys are released uncommitted on send
	// failure, keeping a later redelivery eligible.
	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(configs *forwarding.ConfigStore, dedup *forwarding.DedupWindow, records *forwarding.RecordLog, sender MailSender, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		configs:  configs,
		dedup:    dedup,
		records:  records,
		sender:   sender,
		metrics:  m,
		inflight: make(map[string]struct{}),
	}
}

// Process runs the full gate sequence for one inbound message and returns
// the terminal outcome. It never panics and never returns an error; every
// failure mode is logged and folded into the outcome.
func (p *Pipeline) Process(sender, message string, receivedAt time.Time) Outcome {
	start := time.Now()
	p.metrics.Deliveries.Inc()
	defer func() {
		p.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
	}()

	log := logrus.WithFields(logrus.Fields{
		"sender":      sender,
		"received_at": receivedAt.UnixMilli(),
	})

	cfg, err := p.configs.Load()
	if err != nil || cfg == nil {
		log.Debug("no forwarding configuration, skipping message")
		return OutcomeNotConfigured
	}

	if !cfg.ListenerEnabled {
		log.Debug("listener disabled, skipping message")
		return OutcomeListenerDisabled
	}

	if !otp.MatchesKeyword(message, cfg.Keywords) {
		log.Debug("message does not contain a configured keyword")
		return OutcomeNoKeywordMatch
	}
	p.metrics.KeywordMatches.Inc()

	code := otp.Extract(message, cfg.OtpMinLength, cfg.OtpMaxLength)
	if code == "" {
		log.Debug("no OTP found in message")
		return OutcomeNoOtpFound
	}
	p.metrics.OtpDetections.Inc()
	log = log.WithField("otp", code)

	key := forwarding.DedupKey(code, sender, receivedAt)
	if !p.acquire(key) {
		log.WithField("dedup_key", key).Info("duplicate delivery in flight, skipping")
		p.metrics.DedupSuppressed.Inc()
		return OutcomeDuplicate
	}
	defer p.release(key)

	if p.dedup.AlreadyProcessed(key) {
		log.WithField("dedup_key", key).Info("OTP already processed, skipping")
		p.metrics.DedupSuppressed.Inc()
		return OutcomeDuplicate
	}

	if !cfg.MailConfigured() {
		log.Debug("mail not configured, skipping forwarding")
		return OutcomeMailNotConfigured
	}

	if err := p.sender.Send(code, sender, message, receivedAt, cfg.MailSettings); err != nil {
		// Do not mark processed and do not record: the next delivery of this
		// message is still eligible to try again.
		log.WithError(err).Error("failed to forward OTP by email")
		p.metrics.ForwardFailures.Inc()
		return OutcomeSendFailed
	}

	// Both commits are best-effort; the forward already happened.
	if err := p.dedup.MarkProcessed(key); err != nil {
		log.WithError(err).Warn("failed to record dedup key")
	}
	if err := p.records.Append(forwarding.NewRecord(code, sender, message, receivedAt)); err != nil {
		log.WithError(err).Warn("failed to append OTP record")
	}

	p.metrics.ForwardSuccesses.Inc()
	log.Info("OTP forwarded")
	return OutcomeForwarded
}

func (p *Pipeline) acquire(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[key]; busy {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Pipeline) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}
