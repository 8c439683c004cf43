package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactTokens(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/team/invitations/accept/abc123secret", "/api/team/invitations/accept/[REDACTED]"},
		{"/api/claims/accept/abc123secret", "/api/claims/accept/[REDACTED]"},
		{"/api/team/invitations", "/api/team/invitations"},
		{"/api/health", "/api/health"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, redactTokens(tt.path))
	}
}
