package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/GriffinCanCode/termhost/internal/auth"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/config"
)

// issueToken writes a handshake token for subject, signed with the
// configured secret and issuer.
func issueToken(w io.Writer, cfg config.AuthConfig, subject string, ttl time.Duration) error {
	if cfg.JWTSecret == "" {
		return errors.New("issue token: AUTH_JWT_SECRET is not set")
	}
	if ttl <= 0 {
		return fmt.Errorf("issue token: invalid ttl %s", ttl)
	}
	token, err := auth.Sign([]byte(cfg.JWTSecret), cfg.JWTIssuer, subject, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
