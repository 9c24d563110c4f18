package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  What are the publications of Hannah Bast?  ", "What are the publications of Hannah Bast?"},
		{"Bast\x00 at\tSIGIR\n?", "Bast at SIGIR ?"},
		{"\x07\x1b", ""},
		{"Gerhard Weikum's co-authors", "Gerhard Weikum's co-authors"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in))
	}
}

func TestMatchesPath(t *testing.T) {
	assert.True(t, matchesPath("/api/v1/answer", []string{"/api/v1/answer"}))
	assert.False(t, matchesPath("/api/v1/runs", []string{"/api/v1/answer"}))
}
