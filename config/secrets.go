package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const maxSecretFileBytes int64 = 10 * 1024

// APIKeyEnv is consulted when neither llm.api_key nor llm.api_key_file is set.
const APIKeyEnv = "OPENAI_API_KEY"

// ResolveAPIKey returns the LLM key from the config value, the key file or
// the provider's conventional environment variable, in that order. An empty
// key with a nil error means no key is configured.
func (c Config) ResolveAPIKey() (string, error) {
	if k := strings.TrimSpace(c.LLM.APIKey); k != "" {
		return k, nil
	}
	if c.LLM.APIKeyFile != "" {
		return ReadSecretFile(c.LLM.APIKeyFile)
	}
	env := APIKeyEnv
	if c.LLM.Provider != "" {
		env = strings.ToUpper(c.LLM.Provider) + "_API_KEY"
	}
	return strings.TrimSpace(os.Getenv(env)), nil
}

// SessionPassword reads the SSH password from the environment variable named
// by session.password_env.
func (c Config) SessionPassword() string {
	if c.Session.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Session.PasswordEnv)
}

// ReadSecretFile reads a small regular file and returns its trimmed contents.
func ReadSecretFile(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to open secret file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !st.Mode().IsRegular() {
		return "", errors.New("secret file must be a regular file")
	}
	if st.Size() > maxSecretFileBytes {
		return "", fmt.Errorf("secret file too large (max %d bytes)", maxSecretFileBytes)
	}

	b, err := io.ReadAll(io.LimitReader(f, maxSecretFileBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	if int64(len(b)) > maxSecretFileBytes {
		return "", fmt.Errorf("secret file too large (max %d bytes)", maxSecretFileBytes)
	}

	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", errors.New("secret file is empty")
	}
	return s, nil
}
