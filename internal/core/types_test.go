package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredentialID(t *testing.T) {
	a := Credential("sk-live-aaaaaaaa")
	b := Credential("sk-live-bbbbbbbb")

	assert.Len(t, a.ID(), 8)
	assert.Equal(t, a.ID(), Credential("sk-live-aaaaaaaa").ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotContains(t, a.ID(), "sk-live")
}

func TestCredentialMasked(t *testing.T) {
	tests := []struct {
		in   Credential
		want string
	}{
		{"", ""},
		{"abc", "***"},
		{"12345678", "********"},
		{"sk-live-aaaaaaaa", "sk-l****aaaa"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Masked(), string(tt.in))
	}
	assert.Equal(t, "raw", Credential("raw").String())
}

func TestUsageWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := time.Minute
	u := UsageWindow{Count: 3, WindowStart: start}

	assert.False(t, u.Expired(start.Add(59*time.Second), window))
	assert.True(t, u.Expired(start.Add(window), window))
	assert.Equal(t, 15*time.Second, u.RemainingWait(start.Add(45*time.Second), window))
	assert.Equal(t, time.Duration(0), u.RemainingWait(start.Add(2*window), window))

	later := start.Add(2 * window)
	u.Reset(later)
	assert.Equal(t, 0, u.Count)
	assert.Equal(t, later, u.WindowStart)
}
