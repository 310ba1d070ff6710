package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/janovincze/snapstream/internal/config"
)

// Secrets are credentials read from Vault. Empty fields were not read.
type Secrets struct {
	CatalogToken     string
	DatabasePassword string
	StorageAccessKey string
	StorageSecretKey string
	APIJWTSecret     string
}

// LoadSecrets reads every configured secret path.
func (c *Client) LoadSecrets(ctx context.Context, paths SecretPaths) (Secrets, error) {
	var s Secrets

	if paths.Catalog != "" {
		token, err := c.GetSecretString(ctx, paths.Catalog, SecretKeyToken)
		if err != nil {
			return Secrets{}, fmt.Errorf("catalog token: %w", err)
		}
		s.CatalogToken = token
	}

	if paths.Database != "" {
		password, err := c.GetSecretString(ctx, paths.Database, SecretKeyPassword)
		if err != nil {
			return Secrets{}, fmt.Errorf("database password: %w", err)
		}
		s.DatabasePassword = password
	}

	if paths.Storage != "" {
		data, err := c.GetSecret(ctx, paths.Storage)
		if err != nil {
			return Secrets{}, fmt.Errorf("storage credentials: %w", err)
		}
		if s.StorageAccessKey, err = stringValue(data, paths.Storage, SecretKeyAccessKey); err != nil {
			return Secrets{}, fmt.Errorf("storage credentials: %w", err)
		}
		if s.StorageSecretKey, err = stringValue(data, paths.Storage, SecretKeySecretKey); err != nil {
			return Secrets{}, fmt.Errorf("storage credentials: %w", err)
		}
	}

	if paths.API != "" {
		secret, err := c.GetSecretString(ctx, paths.API, SecretKeyJWTSecret)
		if err != nil {
			return Secrets{}, fmt.Errorf("api jwt secret: %w", err)
		}
		s.APIJWTSecret = secret
	}

	return s, nil
}

// Apply overlays the non-empty secrets onto cfg.
func (s Secrets) Apply(cfg *config.Config) {
	if s.CatalogToken != "" {
		cfg.Iceberg.Token = s.CatalogToken
	}
	if s.DatabasePassword != "" {
		cfg.Database.Password = s.DatabasePassword
	}
	if s.StorageAccessKey != "" {
		cfg.Storage.AccessKey = s.StorageAccessKey
		cfg.Storage.SecretKey = s.StorageSecretKey
	}
	if s.APIJWTSecret != "" {
		cfg.API.JWTSecret = s.APIJWTSecret
	}
}

// ConfigFrom converts the environment configuration of Vault.
func ConfigFrom(v config.VaultConfig) Config {
	return Config{
		Enabled:         v.Enabled,
		Address:         v.Address,
		Namespace:       v.Namespace,
		AuthMethod:      v.AuthMethod,
		Role:            v.Role,
		TokenPath:       v.TokenPath,
		Token:           v.Token,
		TLSSkipVerify:   v.TLSSkipVerify,
		CACert:          v.CACert,
		SecretMountPath: v.SecretMountPath,
		FallbackToEnv:   v.FallbackToEnv,
		SecretPaths: SecretPaths{
			Catalog:  v.CatalogSecretPath,
			Database: v.DatabaseSecretPath,
			Storage:  v.StorageSecretPath,
			API:      v.APISecretPath,
		},
	}
}

// Resolve replaces the credentials in cfg with those stored in Vault. It is
// a no-op when Vault is disabled. With FallbackToEnv, a Vault failure is
// logged and cfg keeps its environment credentials.
func Resolve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	vcfg := ConfigFrom(cfg.Vault)
	if !vcfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	secrets, err := load(ctx, vcfg, logger)
	if err != nil {
		if vcfg.FallbackToEnv {
			logger.Warn("vault unavailable, using environment credentials", "error", err)
			return nil
		}
		return err
	}

	secrets.Apply(cfg)
	logger.Info("credentials loaded from vault", "address", vcfg.Address)
	return nil
}

func load(ctx context.Context, cfg Config, logger *slog.Logger) (Secrets, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return Secrets{}, err
	}
	if err := client.Authenticate(ctx); err != nil {
		return Secrets{}, fmt.Errorf("authenticate to vault: %w", err)
	}
	return client.LoadSecrets(ctx, cfg.SecretPaths)
}
