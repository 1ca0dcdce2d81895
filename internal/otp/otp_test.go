package otp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesKeyword(t *testing.T) {
	keywords := []string{"OTP", "code"}

	assert.True(t, MatchesKeyword("Your otp is 1234", keywords))
	assert.True(t, MatchesKeyword("Your verification CODE: 9876", keywords))
	assert.True(t, MatchesKeyword("barcode scanner", keywords), "substring containment, not word match")
	assert.False(t, MatchesKeyword("Thanks for your purchase", keywords))
}

func TestMatchesKeywordEmptySetNeverMatches(t *testing.T) {
	assert.False(t, MatchesKeyword("Your otp is 1234", nil))
	assert.False(t, MatchesKeyword("Your otp is 1234", []string{}))
	assert.False(t, MatchesKeyword("anything", []string{""}), "blank keyword must not match everything")
}

func TestExtractFirstQualifyingRun(t *testing.T) {
	cases := []struct {
		name    string
		message string
		min     int
		max     int
		want    string
	}{
		{"simple", "Your OTP is 123456 for verification", 4, 8, "123456"},
		{"first of two candidates wins", "code 1234 or maybe 567890", 4, 8, "1234"},
		{"short run skipped not padded", "v2 code 123456", 4, 8, "123456"},
		{"long run skipped not truncated", "order 987654321 code 4321", 4, 8, "4321"},
		{"no digits", "no numbers here", 4, 8, ""},
		{"all runs out of bounds", "order 987654321 confirmed", 4, 8, ""},
		{"run at end of message", "your code is 55555", 4, 8, "55555"},
		{"whole message is the run", "123456", 4, 8, "123456"},
		{"inclusive bounds", "pin 1234", 4, 4, "1234"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Extract(tc.message, tc.min, tc.max))
		})
	}
}

func TestExtractDigitsSplitByPunctuation(t *testing.T) {
	// "12-34" is two runs of two, not one run of four.
	assert.Equal(t, "", Extract("code 12-34", 4, 8))
	assert.Equal(t, "1234", Extract("code 12-34 or 1234", 4, 8))
}
