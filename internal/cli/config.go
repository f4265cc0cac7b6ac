package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	resilient "github.com/egorkaBurkenya/resilient-api"
)

const envPrefix = "APIWATCH"

// Settings is the decoded apiwatch configuration.
type Settings struct {
	resilient.Config `mapstructure:",squash"`

	Auth AuthSettings `mapstructure:"auth"`
}

// AuthSettings selects one authentication scheme. Client credentials win over
// an API key, which wins over a static bearer token.
type AuthSettings struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scope        []string `mapstructure:"scope"`
	InParams     bool     `mapstructure:"credentials_in_params"`

	APIKey       string `mapstructure:"api_key"`
	APIKeyHeader string `mapstructure:"api_key_header"`
	APIKeyQuery  string `mapstructure:"api_key_query"`

	BearerToken string `mapstructure:"bearer_token"`
}

// newViper returns a viper instance seeded with defaults and bound to the
// APIWATCH_ environment.
func newViper() *viper.Viper {
	v := viper.New()

	d := resilient.DefaultConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("calls_per_second", d.CallsPerSecond)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("backoff_base", d.BackoffBase)
	v.SetDefault("backoff_cap", d.BackoffCap)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("token_refresh_buffer", d.TokenRefreshBuffer)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("poll_history_depth", d.PollHistoryDepth)
	v.SetDefault("response_cache_ttl", d.ResponseCacheTTL)

	// Env lookups only see keys viper already knows about.
	for _, key := range []string{
		"auth.token_url", "auth.client_id", "auth.client_secret", "auth.scope",
		"auth.credentials_in_params", "auth.api_key", "auth.api_key_header",
		"auth.api_key_query", "auth.bearer_token",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.credentials_in_params", false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadSettings reads the optional config file into v and decodes the result.
func loadSettings(v *viper.Viper, cfgFile string) (*Settings, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	s := &Settings{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           s,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	var errs []error
	if s.CallsPerSecond < 0 {
		errs = append(errs, errors.New("calls_per_second must not be negative"))
	}
	if s.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if s.BackoffCap > 0 && s.BackoffBase > s.BackoffCap {
		errs = append(errs, errors.New("backoff_base must not exceed backoff_cap"))
	}
	if s.ResponseCacheTTL < 0 {
		errs = append(errs, errors.New("response_cache_ttl must not be negative"))
	}
	if s.PollHistoryDepth < 0 {
		errs = append(errs, errors.New("poll_history_depth must not be negative"))
	}
	a := s.Auth
	if a.TokenURL != "" && (a.ClientID == "" || a.ClientSecret == "") {
		errs = append(errs, errors.New("auth.token_url requires auth.client_id and auth.client_secret"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// authenticator builds the configured Authenticator, or nil when none is set.
func (s *Settings) authenticator(log zerolog.Logger) resilient.Authenticator {
	a := s.Auth
	switch {
	case a.TokenURL != "":
		style := resilient.AuthStyleBasic
		if a.InParams {
			style = resilient.AuthStyleInParams
		}
		return resilient.NewTokenCache(resilient.ClientCredentials{
			TokenURL:     a.TokenURL,
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			Scopes:       a.Scope,
			AuthStyle:    style,
		},
			resilient.WithTokenBuffer(s.TokenRefreshBuffer),
			resilient.WithTokenTimeout(s.RequestTimeout),
			resilient.WithTokenLogger(log.With().Str("component", "token").Logger()),
		)
	case a.APIKey != "":
		return resilient.APIKey{Key: a.APIKey, Header: a.APIKeyHeader, Query: a.APIKeyQuery}
	case a.BearerToken != "":
		return resilient.StaticToken(a.BearerToken)
	default:
		return nil
	}
}

// newClient builds a Client from the settings.
func (s *Settings) newClient(log zerolog.Logger) *resilient.Client {
	opts := []resilient.Option{
		resilient.WithConfig(s.Config),
		resilient.WithLogger(log.With().Str("component", "client").Logger()),
	}
	if auth := s.authenticator(log); auth != nil {
		opts = append(opts, resilient.WithAuth(auth))
	}
	return resilient.New(opts...)
}
