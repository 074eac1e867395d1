package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestIsTrustedDomain(t *testing.T) {
	checker := NewChecker([]string{" Example.COM ", "docs.vendor.io.", ""}, zaptest.NewLogger(t))

	assert.Equal(t, 2, checker.Len())
	assert.True(t, checker.IsTrustedDomain("example.com"))
	assert.True(t, checker.IsTrustedDomain("mail.EXAMPLE.com."))
	assert.True(t, checker.IsTrustedDomain("a.docs.vendor.io"))
	assert.False(t, checker.IsTrustedDomain("vendor.io"))
	assert.False(t, checker.IsTrustedDomain("example.com.evil.tk"))
	assert.False(t, checker.IsTrustedDomain("notexample.com"))
}

func TestNilChecker(t *testing.T) {
	var checker *Checker
	assert.False(t, checker.IsTrustedDomain("example.com"))
	assert.Equal(t, 0, checker.Len())
}
