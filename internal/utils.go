package internal

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	ConfigHomeEnv     = "SHELLPILOT_CONFIG_HOME"
	DataHomeEnv       = "SHELLPILOT_DATA_HOME"
	CacheHomeEnv      = "SHELLPILOT_CACHE_HOME"
	DefaultConfigDir  = ".shellpilot"
	DefaultDataDir    = "records"
	DefaultCacheDir   = "runs"
	SlugPostfixLength = 4
)

func GenerateUniqueSlug(prefix string) string {
	guid := uuid.New()
	return prefix + guid.String()[:SlugPostfixLength]
}

// GenerateRunID returns the id of one plan run.
func GenerateRunID() string {
	return "run-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func GetConfigHome() (string, error) {
	var result string

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	result = filepath.Join(homeDir, DefaultConfigDir)

	if tmp := os.Getenv(ConfigHomeEnv); tmp != "" {
		result = tmp
	}

	return result, nil
}

func GetDataHome() (string, error) {
	return subHome(DataHomeEnv, DefaultDataDir)
}

func GetCacheHome() (string, error) {
	return subHome(CacheHomeEnv, DefaultCacheDir)
}

func subHome(env, dir string) (string, error) {
	if tmp := os.Getenv(env); tmp != "" {
		return tmp, nil
	}

	configHome, err := GetConfigHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(configHome, dir), nil
}
