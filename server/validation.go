package server

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/gatehouse/gatehouse/security"
	"github.com/gatehouse/gatehouse/storage"
)

// Schemes that must never appear in a redirect URI.
var dangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// Loopback hosts where plain HTTP redirects are acceptable.
var loopbackHosts = []string{"localhost", "127.0.0.1", "::1", "[::1]"}

// validateIssuer enforces an HTTPS issuer outside localhost, unless
// AllowInsecureHTTP is set. Tokens and codes travel through the issuer
// URL; serving them over HTTP exposes them to interception.
func (s *Server) validateIssuer() error {
	if s.Config.Issuer == "" {
		return fmt.Errorf("issuer URL is required")
	}

	parsed, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(parsed.Hostname()) {
			s.Logger.Warn("Issuer uses HTTP on localhost; acceptable for development only",
				"issuer", s.Config.Issuer)
			return nil
		}
		if s.Config.AllowInsecureHTTP {
			s.Logger.Warn("Issuer uses HTTP on a non-localhost address",
				"issuer", s.Config.Issuer)
			return nil
		}
		return fmt.Errorf("issuer %q must use HTTPS (set AllowInsecureHTTP for development)", s.Config.Issuer)
	default:
		return fmt.Errorf("issuer %q must use http or https", s.Config.Issuer)
	}
}

func isLoopbackHost(host string) bool {
	return slices.Contains(loopbackHosts, strings.ToLower(host))
}

// validateRedirectURIs checks redirect URIs being registered for a
// client. Confidential clients are limited to http(s); public clients
// may additionally register custom schemes for native callbacks.
func validateRedirectURIs(uris []string, public bool) error {
	if len(uris) == 0 {
		return fmt.Errorf("at least one redirect URI is required")
	}

	for _, raw := range uris {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid redirect URI %q: %w", raw, err)
		}
		scheme := strings.ToLower(parsed.Scheme)
		if scheme == "" {
			return fmt.Errorf("redirect URI %q has no scheme", raw)
		}
		if slices.Contains(dangerousSchemes, scheme) {
			return fmt.Errorf("redirect URI %q uses a forbidden scheme", raw)
		}
		if strings.Contains(raw, "#") {
			return fmt.Errorf("redirect URI %q must not contain a fragment", raw)
		}

		switch scheme {
		case "https":
		case "http":
			if !isLoopbackHost(parsed.Hostname()) {
				return fmt.Errorf("redirect URI %q uses HTTP outside localhost", raw)
			}
		default:
			if !public {
				return fmt.Errorf("redirect URI %q: custom schemes are only allowed for public clients", raw)
			}
		}
	}
	return nil
}

// matchRedirectURI checks a requested redirect URI against the
// client's registered set. Matching is byte-for-byte; no prefix or
// pattern matching.
func matchRedirectURI(client *storage.Client, uri string) error {
	if uri == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	if slices.Contains(client.RedirectURIs, uri) {
		return nil
	}
	return fmt.Errorf("redirect_uri %q is not registered for client %q", uri, client.ClientID)
}

// validatePKCEParams checks the challenge parameters on an
// authorization request. Public clients must always supply a
// challenge; confidential clients may omit PKCE entirely.
func (s *Server) validatePKCEParams(challenge, method string, public bool) error {
	if challenge == "" {
		if method != "" {
			return fmt.Errorf("code_challenge_method supplied without code_challenge")
		}
		if public {
			return fmt.Errorf("public clients must use PKCE")
		}
		return nil
	}

	if method == "" {
		method = security.MethodPlain
	}
	if !security.ValidChallengeMethod(method) {
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
	if s.Config.RequireS256 && method == security.MethodPlain {
		return fmt.Errorf("the plain code_challenge_method is not allowed")
	}
	return nil
}
