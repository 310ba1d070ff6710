package vault

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/hashicorp/vault/api"
)

// Client wraps the Vault API client.
type Client struct {
	config Config
	api    *api.Client
	logger *slog.Logger
}

// NewClient creates a new Vault client with the given configuration.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, errors.New("vault is not enabled")
	}
	if cfg.Address == "" {
		return nil, errors.New("vault address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address

	if cfg.TLSSkipVerify {
		apiCfg.HttpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // explicitly requested
		}
	}
	if cfg.CACert != "" {
		if err := apiCfg.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("configure TLS: %w", err)
		}
	}

	apiClient, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	// The client picks up VAULT_TOKEN from the environment; only the
	// configured auth method may set a token.
	apiClient.ClearToken()
	if cfg.Namespace != "" {
		apiClient.SetNamespace(cfg.Namespace)
	}
	if cfg.SecretMountPath == "" {
		cfg.SecretMountPath = "secret"
	}

	return &Client{
		config: cfg,
		api:    apiClient,
		logger: logger.With("component", "vault-client"),
	}, nil
}

// Authenticate authenticates to Vault using the configured method.
func (c *Client) Authenticate(ctx context.Context) error {
	switch c.config.AuthMethod {
	case AuthMethodKubernetes:
		return c.authenticateKubernetes(ctx)
	case AuthMethodToken:
		return c.authenticateToken()
	default:
		return fmt.Errorf("unsupported auth method: %s", c.config.AuthMethod)
	}
}

func (c *Client) authenticateKubernetes(ctx context.Context) error {
	tokenPath := c.config.TokenPath
	if tokenPath == "" {
		tokenPath = DefaultTokenPath
	}
	jwt, err := os.ReadFile(tokenPath)
	if err != nil {
		return fmt.Errorf("read service account token: %w", err)
	}

	resp, err := c.api.Logical().WriteWithContext(ctx, "auth/kubernetes/login", map[string]any{
		"role": c.config.Role,
		"jwt":  string(jwt),
	})
	if err != nil {
		return fmt.Errorf("authenticate with kubernetes: %w", err)
	}
	if resp == nil || resp.Auth == nil {
		return errors.New("no auth response from vault")
	}

	c.api.SetToken(resp.Auth.ClientToken)
	c.logger.Info("authenticated to vault",
		"auth_method", AuthMethodKubernetes,
		"role", c.config.Role,
		"lease_duration", resp.Auth.LeaseDuration,
	)
	return nil
}

func (c *Client) authenticateToken() error {
	if c.config.Token == "" {
		return errors.New("vault token is required for token auth method")
	}
	c.api.SetToken(c.config.Token)
	c.logger.Info("authenticated to vault", "auth_method", AuthMethodToken)
	return nil
}

// GetSecret reads a KV v2 secret.
func (c *Client) GetSecret(ctx context.Context, path string) (map[string]any, error) {
	if c.api.Token() == "" {
		return nil, errors.New("vault client is not authenticated")
	}

	fullPath := fmt.Sprintf("%s/data/%s", c.config.SecretMountPath, path)
	c.logger.Debug("fetching secret", "path", fullPath)

	secret, err := c.api.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("read secret at %s: %w", fullPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", fullPath)
	}

	// KV v2 nests the values under "data".
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", fullPath)
	}
	return data, nil
}

// GetSecretString reads one string value from a secret.
func (c *Client) GetSecretString(ctx context.Context, path, key string) (string, error) {
	data, err := c.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}
	return stringValue(data, path, key)
}

// HealthCheck checks Vault is initialized and unsealed.
func (c *Client) HealthCheck(ctx context.Context) error {
	health, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !health.Initialized {
		return errors.New("vault is not initialized")
	}
	if health.Sealed {
		return errors.New("vault is sealed")
	}
	return nil
}

func stringValue(data map[string]any, path, key string) (string, error) {
	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in secret at %s", key, path)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value for key %s at %s is not a string", key, path)
	}
	return s, nil
}
