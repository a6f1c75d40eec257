// Package creds resolves the Instagram access token and account id.
//
// Secrets stay out of the config file: the token comes from the environment
// or a token file (rotatable without a restart). The account id is not a
// secret and normally lives in the config; the environment can override it.
package creds

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/bennyhartnett/instagram-poster/internal/instagram"
)

type envSpec struct {
	AccessToken string `envconfig:"ACCESS_TOKEN"`
	TokenFile   string `envconfig:"TOKEN_FILE"`
	UserID      string `envconfig:"USER_ID"`
}

// Store implements instagram.CredentialSource.
type Store struct {
	env envSpec

	// userID supplies the config-file account id; the env override wins.
	userID func() string
}

// NewStore reads the IG_* environment once and keeps the config-side account
// id live through userID.
func NewStore(userID func() string) (*Store, error) {
	var e envSpec
	if err := envconfig.Process("ig", &e); err != nil {
		return nil, fmt.Errorf("creds: %w", err)
	}
	if userID == nil {
		userID = func() string { return "" }
	}
	return &Store{env: e, userID: userID}, nil
}

// Credentials resolves the token and account id for one attempt. The token
// file is re-read every call so a rotated token is picked up immediately.
func (s *Store) Credentials() (instagram.Credentials, error) {
	token := strings.TrimSpace(s.env.AccessToken)
	if token == "" && strings.TrimSpace(s.env.TokenFile) != "" {
		b, err := os.ReadFile(s.env.TokenFile)
		if err != nil {
			return instagram.Credentials{}, fmt.Errorf("creds: token file: %w", err)
		}
		token = strings.TrimSpace(string(b))
	}

	userID := strings.TrimSpace(s.env.UserID)
	if userID == "" {
		userID = strings.TrimSpace(s.userID())
	}

	if token == "" || userID == "" {
		return instagram.Credentials{}, instagram.ErrNotConfigured
	}
	return instagram.Credentials{AccessToken: token, UserID: userID}, nil
}
