// Package vault reads snapstream credentials from HashiCorp Vault.
package vault

// Config holds Vault client configuration.
type Config struct {
	// Enabled enables Vault integration
	Enabled bool

	// Address is the Vault server URL
	Address string

	// Namespace is the Vault namespace (Enterprise feature)
	Namespace string

	// AuthMethod is the authentication method ("kubernetes" or "token")
	AuthMethod string

	// Role is the Vault role for Kubernetes authentication
	Role string

	// TokenPath is the path to the Kubernetes service account token
	TokenPath string

	// Token is a static Vault token (for development/testing)
	Token string

	// TLSSkipVerify skips TLS certificate verification
	TLSSkipVerify bool

	// CACert is the path to a CA certificate file
	CACert string

	// SecretMountPath is the mount path for the KV v2 secrets engine
	SecretMountPath string

	// FallbackToEnv keeps the environment credentials if Vault is unavailable
	FallbackToEnv bool

	// SecretPaths contains the Vault paths for each secret type
	SecretPaths SecretPaths
}

// SecretPaths defines the Vault paths for different secret types. An empty
// path is not read.
type SecretPaths struct {
	// Catalog holds the Iceberg catalog bearer token
	Catalog string

	// Database holds the postgres password
	Database string

	// Storage holds the S3/MinIO access and secret keys
	Storage string

	// API holds the admin API JWT signing secret
	API string
}

// Authentication method constants.
const (
	// AuthMethodKubernetes uses Kubernetes service account authentication
	AuthMethodKubernetes = "kubernetes"

	// AuthMethodToken uses a static Vault token
	AuthMethodToken = "token"
)

// DefaultTokenPath is the default path to the Kubernetes service account token.
const DefaultTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// Secret key constants for Vault KV secrets.
const (
	SecretKeyToken     = "token"
	SecretKeyPassword  = "password"
	SecretKeyAccessKey = "access_key"
	SecretKeySecretKey = "secret_key"
	SecretKeyJWTSecret = "jwt_secret"
)
