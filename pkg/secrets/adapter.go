package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

var ErrProviderUnavailable = errors.New("secret provider unavailable")

// EncryptionKeyName is the secret holding the base64-encoded 256-bit
// paste encryption key.
const EncryptionKeyName = "PASTE_ENCRYPTION_KEY"

// Provider fetches named secret values from a backing store.
type Provider interface {
	GetSecret(ctx context.Context, key string) (value string, err error)
}

// Unwrapper decrypts a provider-wrapped key blob. Only the AWS
// provider implements it (KMS).
type Unwrapper interface {
	Unwrap(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Adapter picks the first available provider: Vault, then AWS Secrets
// Manager, then process env. Construction probes reachability; a dead
// provider is skipped rather than carried.
type Adapter struct {
	primary  Provider
	fallback Provider
}

func NewAdapter(ctx context.Context) (*Adapter, error) {
	var primary Provider
	if vaultAddr := os.Getenv("VAULT_ADDR"); vaultAddr != "" {
		if vp, err := newVaultProvider(ctx); err == nil {
			primary = vp
		}
	}
	if primary == nil {
		if awsRegion := os.Getenv("AWS_REGION"); awsRegion != "" {
			if ap, err := newAWSProvider(ctx); err == nil {
				primary = ap
			}
		}
	}
	return &Adapter{primary: primary, fallback: envProvider{}}, nil
}

func (a *Adapter) GetSecret(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if a.primary != nil {
		val, err := a.primary.GetSecret(ctx, key)
		if err == nil && val != "" {
			return val, nil
		}
	}
	return a.fallback.GetSecret(ctx, key)
}

// LoadEncryptionKey resolves the paste key: fetch, base64-decode,
// optionally KMS-unwrap (PASTE_KEY_KMS_WRAPPED=true), and validate the
// exact length. Any failure means the service runs without a cipher
// and every encryption-dependent operation fails fast.
func (a *Adapter) LoadEncryptionKey(ctx context.Context, size int) ([]byte, error) {
	encoded, err := a.GetSecret(ctx, EncryptionKeyName)
	if err != nil {
		return nil, errors.Wrap(err, "fetch encryption key")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "encryption key must be base64")
	}
	if strings.ToLower(os.Getenv("PASTE_KEY_KMS_WRAPPED")) == "true" {
		uw, ok := a.primary.(Unwrapper)
		if !ok {
			return nil, errors.New("PASTE_KEY_KMS_WRAPPED=true but no KMS-capable provider available")
		}
		key, err = uw.Unwrap(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "unwrap encryption key")
		}
	}
	if len(key) != size {
		return nil, errors.Errorf("encryption key must be %d bytes after decoding (got %d)", size, len(key))
	}
	return key, nil
}

type vaultProvider struct {
	client     *vault.Client
	secretPath string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = os.Getenv("VAULT_ADDR")
	cfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read VAULT_TOKEN_FILE: %w", err)
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, fmt.Errorf("vault health check failed: %w", err)
	}
	return &vaultProvider{
		client:     client,
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/snipbin"),
	}, nil
}

func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	path := fmt.Sprintf("%s/%s", v.secretPath, key)
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", errors.New("vault: value not found")
	}
	return value, nil
}

type awsProvider struct {
	smClient  *secretsmanager.Client
	kmsClient *kms.Client
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(os.Getenv("AWS_REGION")),
	)
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		smClient:  secretsmanager.NewFromConfig(cfg),
		kmsClient: kms.NewFromConfig(cfg),
	}, nil
}

func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	result, err := a.smClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &key,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}
	if result.SecretString == nil {
		return "", errors.New("secret is binary, not string")
	}
	return *result.SecretString, nil
}

func (a *awsProvider) Unwrap(ctx context.Context, ciphertext []byte) ([]byte, error) {
	result, err := a.kmsClient.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms decrypt failed: %w", err)
	}
	return result.Plaintext, nil
}

type envProvider struct{}

func (envProvider) GetSecret(ctx context.Context, key string) (string, error) {
	val, exists := os.LookupEnv(key)
	if !exists {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return val, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
