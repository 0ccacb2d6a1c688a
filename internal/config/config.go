// Package config reads server configuration from the environment.
//
// An optional .env file is loaded first; variables already set in the
// environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Content backends.
const (
	ContentGitHub = "github"
	ContentGit    = "git"
)

// Session backends.
const (
	SessionMemory = "memory"
	SessionSQLite = "sqlite"
	SessionRedis  = "redis"
)

type Config struct {
	Port        int
	TemplateDir string
	StaticDir   string
	LogLevel    string // debug, info, warn or error
	LogFormat   string // text or json

	// JWTSecret signs the OAuth state parameter.
	JWTSecret string

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string
	GitHubAPIBase      string

	ContentBackend string
	RepoOwner      string
	RepoName       string
	GitRepoDir     string // repository used by the git backend

	SessionBackend  string
	DBPath          string
	RedisURL        string
	SessionLifetime time.Duration
	CookieSecure    bool

	IndexLimit int
}

// Load reads .env files (default ".env") if present, then the environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading env file: %w", err)
	}

	var errs []error
	port := getenvInt("PORT", 8080, &errs)

	cfg := Config{
		Port:        port,
		TemplateDir: getenv("TEMPLATE_DIR", "web/templates"),
		StaticDir:   getenv("STATIC_DIR", "web/static"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getenv("LOG_FORMAT", "text")),

		JWTSecret: os.Getenv("JWT_SECRET"),

		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		GitHubCallbackURL:  getenv("GITHUB_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/github/authorized", port)),
		GitHubAPIBase:      getenv("GITHUB_API_BASE", "https://api.github.com"),

		ContentBackend: strings.ToLower(getenv("CONTENT_BACKEND", ContentGitHub)),
		RepoOwner:      os.Getenv("REPO_OWNER"),
		RepoName:       os.Getenv("REPO_NAME"),
		GitRepoDir:     getenv("GIT_REPO_DIR", "data/articles"),

		SessionBackend:  strings.ToLower(getenv("SESSION_BACKEND", SessionMemory)),
		DBPath:          getenv("DB_PATH", "data/sessions.db"),
		RedisURL:        getenv("REDIS_URL", "redis://localhost:6379/0"),
		SessionLifetime: getenvDuration("SESSION_LIFETIME", 7*24*time.Hour, &errs),
		CookieSecure:    getenvBool("COOKIE_SECURE", false, &errs),

		IndexLimit: getenvInt("INDEX_LIMIT", 20, &errs),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.GitHubClientID == "" || c.GitHubClientSecret == "" {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET are required"))
	}

	switch c.ContentBackend {
	case ContentGitHub:
		if c.RepoOwner == "" || c.RepoName == "" {
			errs = append(errs, errors.New("REPO_OWNER and REPO_NAME are required for the github backend"))
		}
	case ContentGit:
		if c.GitRepoDir == "" {
			errs = append(errs, errors.New("GIT_REPO_DIR is required for the git backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CONTENT_BACKEND %q", c.ContentBackend))
	}

	switch c.SessionBackend {
	case SessionMemory, SessionSQLite, SessionRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}
	if c.SessionLifetime <= 0 {
		errs = append(errs, errors.New("SESSION_LIFETIME must be positive"))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s value %q", key, value))
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s value %q", key, value))
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s value %q", key, value))
		return fallback
	}
	return parsed
}
