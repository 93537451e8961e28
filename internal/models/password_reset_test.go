package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResetCode_IsValidAt(t *testing.T) {
	created := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	rc := &ResetCode{Email: "user@example.com", Code: "1234", CreatedAt: created, ExpiresAt: created.Add(10 * time.Minute)}

	assert.True(t, rc.IsValidAt(created))
	assert.True(t, rc.IsValidAt(rc.ExpiresAt))
	assert.False(t, rc.IsValidAt(rc.ExpiresAt.Add(time.Nanosecond)))

	used := *rc
	used.Used = true
	assert.False(t, used.IsValidAt(created))

	var nilCode *ResetCode
	assert.False(t, nilCode.IsValidAt(created))
}
