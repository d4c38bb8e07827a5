package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseURLForListenAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		listenAddr string
		want       string
	}{
		{":8080", "http://localhost:8080"},
		{"0.0.0.0:9000", "http://localhost:9000"},
		{"[::]:8080", "http://localhost:8080"},
		{"127.0.0.1:8081", "http://127.0.0.1:8081"},
		{"[::1]:8080", "http://[::1]:8080"},
		{"  flows.internal:80 ", "http://flows.internal:80"},
		{"", "http://localhost:8080"},
		{"flows.internal", "http://flows.internal"},
	}

	for _, tt := range tests {
		got := baseURLForListenAddr(tt.listenAddr)
		assert.Equal(t, tt.want, got, "listen address %q", tt.listenAddr)
	}
}
