package preflight

import (
	"reflect"
	"testing"
)

func TestHosts(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   []string
	}{
		{"curl url", []string{"curl", "-sSL", "https://registry.npmjs.org/react"}, []string{"registry.npmjs.org"}},
		{"wget url", []string{"wget", "http://example.com/file.tar.gz"}, []string{"example.com"}},
		{"ssh user@host", []string{"ssh", "git@github.com"}, []string{"github.com"}},
		{"scp with path", []string{"scp", "file.txt", "deploy@prod.example.com:/var/www"}, []string{"prod.example.com"}},
		{"non-canonical tool", []string{"ls", "-la"}, nil},
		{"empty", nil, nil},
		{"npm install has no host", []string{"npm", "install", "react"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hosts(tt.tokens)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Hosts(%v) = %v, want %v", tt.tokens, got, tt.want)
			}
		})
	}
}

func TestNeedsSSHAuthSock(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   bool
	}{
		{"ssh", []string{"ssh", "host"}, true},
		{"scp", []string{"/usr/bin/scp", "a", "b"}, true},
		{"curl", []string{"curl", "url"}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsSSHAuthSock(tt.tokens); got != tt.want {
				t.Errorf("NeedsSSHAuthSock(%v) = %v, want %v", tt.tokens, got, tt.want)
			}
		})
	}
}
