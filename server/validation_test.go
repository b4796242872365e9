package server

import (
	"log/slog"
	"testing"

	dirmemory "github.com/gatehouse/gatehouse/directory/memory"
	"github.com/gatehouse/gatehouse/storage/memory"
)

func TestIssuerValidation(t *testing.T) {
	tests := []struct {
		name    string
		issuer  string
		allow   bool
		wantErr bool
	}{
		{"https", "https://auth.example.com", false, false},
		{"http localhost", "http://localhost:8080", false, false},
		{"http loopback ip", "http://127.0.0.1:8080", false, false},
		{"http public", "http://auth.example.com", false, true},
		{"http public allowed", "http://auth.example.com", true, false},
		{"empty", "", false, true},
		{"bad scheme", "ftp://auth.example.com", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New(nil)
			defer store.Stop()

			_, err := New(store, store, store, dirmemory.New(), &Config{
				Issuer:            tt.issuer,
				AllowInsecureHTTP: tt.allow,
			}, slog.Default())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePKCEParams(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		challenge string
		method    string
		public    bool
		wantErr   bool
	}{
		{"s256 public", "challenge", "S256", true, false},
		{"plain public", "abc", "plain", true, false},
		{"implicit plain", "abc", "", true, false},
		{"no pkce confidential", "", "", false, false},
		{"no pkce public", "", "", true, true},
		{"method without challenge", "", "S256", false, true},
		{"unknown method", "abc", "S512", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.srv.validatePKCEParams(tt.challenge, tt.method, tt.public)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePKCEParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePKCEParamsRequireS256(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Config.RequireS256 = true

	if err := env.srv.validatePKCEParams("abc", "plain", true); err == nil {
		t.Error("plain method accepted with RequireS256")
	}
	if err := env.srv.validatePKCEParams("challenge", "S256", true); err != nil {
		t.Errorf("S256 rejected with RequireS256: %v", err)
	}
}
