package fetcher

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/subosito/gotenv"
)

// TokenEnv names the environment variable (or .env entry) holding the personal API token.
const TokenEnv = "RUNALYZE_TOKEN"

// ErrMissingToken is returned when neither the environment nor the .env file provide a token.
var ErrMissingToken = errors.New("no API token found: set " + TokenEnv +
	" or add it to a .env file (get a token at https://runalyze.com/settings/personal-api)")

// ResolveToken returns the token from the environment, falling back to envFile.
// A missing envFile is not an error on its own.
func ResolveToken(getenv func(string) string, envFile string) (string, error) {
	if tok := strings.TrimSpace(getenv(TokenEnv)); tok != "" {
		return tok, nil
	}

	env, err := gotenv.Read(envFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrMissingToken
		}
		return "", fmt.Errorf("read %s: %w", envFile, err)
	}
	if tok := strings.TrimSpace(env[TokenEnv]); tok != "" {
		return tok, nil
	}
	return "", ErrMissingToken
}
