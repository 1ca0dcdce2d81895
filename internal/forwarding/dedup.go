package forwarding

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"otplink/internal/store"
)

// dedupBucketMillis groups events into coarse 5-minute buckets so duplicate
// platform deliveries of the same message dedup against each other without
// exact timestamp equality.
const dedupBucketMillis = 300000

// maxProcessedKeys bounds the persisted window of recently seen keys.
const maxProcessedKeys = 50

// DedupKey derives the stable deduplication key for an OTP event. Two events
// with the same OTP and sender whose timestamps fall into the same bucket map
// to the same key. The formula is shared with the companion application's
// dedup query and must not drift.
func DedupKey(otp, sender string, receivedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d", otp, sender, receivedAt.UnixMilli()/dedupBucketMillis)
}

// DedupWindow checks and records membership in the bounded persisted history
// of recently processed keys.
type DedupWindow struct {
	kv store.KV
}

func NewDedupWindow(kv store.KV) *DedupWindow {
	return &DedupWindow{kv: kv}
}

// AlreadyProcessed reports whether the key is present in the current window.
// Store read failures are treated as "not processed"; a false negative at
// worst re-forwards an OTP, while failing here would drop it.
func (w *DedupWindow) AlreadyProcessed(key string) bool {
	keys, err := w.load()
	if err != nil {
		logrus.WithError(err).Warn("failed to read processed OTP keys")
		return false
	}
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// MarkProcessed appends the key and trims the window to its capacity, oldest
// entries first. Appending an already-present key is harmless.
func (w *DedupWindow) MarkProcessed(key string) error {
	return w.kv.Update(ProcessedKey, func(current string, found bool) (string, error) {
		keys := decodeKeys(current, found)
		keys = append(keys, key)
		if len(keys) > maxProcessedKeys {
			keys = keys[len(keys)-maxProcessedKeys:]
		}
		out, err := json.Marshal(keys)
		if err != nil {
			return "", fmt.Errorf("failed to encode processed keys: %w", err)
		}
		return string(out), nil
	})
}

// Trim re-applies the capacity bound without adding a key. Used by the
// maintenance job to repair an oversized window left by an external writer.
func (w *DedupWindow) Trim() error {
	return w.kv.Update(ProcessedKey, func(current string, found bool) (string, error) {
		keys := decodeKeys(current, found)
		if len(keys) > maxProcessedKeys {
			keys = keys[len(keys)-maxProcessedKeys:]
		}
		out, err := json.Marshal(keys)
		if err != nil {
			return "", fmt.Errorf("failed to encode processed keys: %w", err)
		}
		return string(out), nil
	})
}

// Size returns the current number of tracked keys.
func (w *DedupWindow) Size() int {
	keys, err := w.load()
	if err != nil {
		return 0
	}
	return len(keys)
}

func (w *DedupWindow) load() ([]string, error) {
	raw, err := w.kv.Get(ProcessedKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeKeys(raw, true), nil
}

func decodeKeys(raw string, found bool) []string {
	if !found || raw == "" {
		return nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		logrus.WithError(err).Warn("malformed processed OTP key list, resetting")
		return nil
	}
	return keys
}
