package forwarding

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"otplink/internal/store"
)

// maxRecords bounds the persisted history shown by the companion app.
const maxRecords = 100

// Record is one forwarded-OTP event in the history feed. Field names are the
// contract with the companion application.
type Record struct {
	ID               string `json:"id"`
	Otp              string `json:"otp"`
	Source           string `json:"source"`
	Sender           string `json:"sender"`
	Message          string `json:"message"`
	Timestamp        string `json:"timestamp"`
	Forwarded        bool   `json:"forwarded"`
	ForwardingMethod string `json:"forwardingMethod"`
}

// NewRecord builds a forwarded-by-email record for an OTP event.
func NewRecord(otp, sender, message string, at time.Time) Record {
	return Record{
		ID:               uuid.NewString(),
		Otp:              otp,
		Source:           "sms",
		Sender:           sender,
		Message:          message,
		Timestamp:        at.UTC().Format(time.RFC3339),
		Forwarded:        true,
		ForwardingMethod: "email",
	}
}

// RecordLog is the bounded, newest-first persisted history of forwarded OTP
// events.
type RecordLog struct {
	kv store.KV
}

func NewRecordLog(kv store.KV) *RecordLog {
	return &RecordLog{kv: kv}
}

// Append prepends the record and truncates the tail beyond capacity. The
// write commits synchronously so the companion app sees the record as soon
// as the pipeline reports success.
func (l *RecordLog) Append(rec Record) error {
	return l.kv.Update(RecordsKey, func(current string, found bool) (string, error) {
		records := decodeRecords(current, found)
		next := make([]Record, 0, len(records)+1)
		next = append(next, rec)
		for i := 0; i < len(records) && i < maxRecords-1; i++ {
			next = append(next, records[i])
		}
		out, err := json.Marshal(next)
		if err != nil {
			return "", fmt.Errorf("failed to encode OTP records: %w", err)
		}
		return string(out), nil
	})
}

// List returns the history, newest first.
func (l *RecordLog) List() ([]Record, error) {
	raw, err := l.kv.Get(RecordsKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []Record{}, nil
		}
		return nil, err
	}
	return decodeRecords(raw, true), nil
}

// Trim re-applies the capacity bound, for the maintenance job.
func (l *RecordLog) Trim() error {
	return l.kv.Update(RecordsKey, func(current string, found bool) (string, error) {
		records := decodeRecords(current, found)
		if len(records) > maxRecords {
			records = records[:maxRecords]
		}
		out, err := json.Marshal(records)
		if err != nil {
			return "", fmt.Errorf("failed to encode OTP records: %w", err)
		}
		return string(out), nil
	})
}

// Size returns the current number of stored records.
func (l *RecordLog) Size() int {
	records, err := l.List()
	if err != nil {
		return 0
	}
	return len(records)
}

func decodeRecords(raw string, found bool) []Record {
	if !found || raw == "" {
		return []Record{}
	}
	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		logrus.WithError(err).Warn("malformed OTP record history, resetting")
		return []Record{}
	}
	return records
}
