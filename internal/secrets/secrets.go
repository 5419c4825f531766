// Package secrets reads credentials from AWS Secrets Manager.
package secrets

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/todo-api/internal/config"
)

// Fetcher retrieves secret strings by name
type Fetcher struct {
	client secretsmanageriface.SecretsManagerAPI
	logger *logrus.Logger
}

// NewFetcher creates a Secrets Manager backed fetcher for the configured region/profile
func NewFetcher(awsCfg *config.AWSConfig, logger *logrus.Logger) (*Fetcher, error) {
	sessOpts := session.Options{
		Config: aws.Config{
			Region:                        aws.String(awsCfg.Region),
			CredentialsChainVerboseErrors: aws.Bool(true),
		},
		SharedConfigState: session.SharedConfigEnable,
	}
	if awsCfg.Profile != "" {
		sessOpts.Profile = awsCfg.Profile
	}

	sess, err := session.NewSessionWithOptions(sessOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewFetcherWithClient(secretsmanager.New(sess), logger), nil
}

func NewFetcherWithClient(client secretsmanageriface.SecretsManagerAPI, logger *logrus.Logger) *Fetcher {
	return &Fetcher{client: client, logger: logger}
}

// Get returns the string value of the named secret
func (f *Fetcher) Get(name string) (string, error) {
	result, err := f.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret '%s': %w", name, err)
	}

	if result.SecretString == nil || *result.SecretString == "" {
		return "", fmt.Errorf("secret '%s' has no string value", name)
	}

	f.logger.WithField("secret_name", name).Info("Successfully retrieved secret from Secrets Manager")
	return *result.SecretString, nil
}

// Resolve replaces config values flagged to come from Secrets Manager
func Resolve(cfg *config.Config, f *Fetcher) error {
	if cfg.JWT.SecretFromSecrets {
		secret, err := f.Get(cfg.JWT.SecretName)
		if err != nil {
			return fmt.Errorf("jwt secret: %w", err)
		}
		cfg.JWT.Secret = secret
	}

	if cfg.Redis.PasswordFromSecrets {
		password, err := f.Get(cfg.Redis.SecretName)
		if err != nil {
			return fmt.Errorf("redis password: %w", err)
		}
		cfg.Redis.Password = password
	}

	return nil
}

// Needed reports whether any config value must be fetched
func Needed(cfg *config.Config) bool {
	return cfg.JWT.SecretFromSecrets || cfg.Redis.PasswordFromSecrets
}
