package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"kite-collector/pkg/shared"
)

// Credentials is the secret payload the daily token generator maintains in
// Secrets Manager.
type Credentials struct {
	APIKey      string `json:"API_KEY"`
	APISecret   string `json:"API_SECRET"`
	AccessToken string `json:"ACCESS_TOKEN"`
}

// Load resolves Kite credentials: the env override first, then the
// Secrets Manager secret. A secret missing any field fails hard, before
// any session state exists.
func Load(ctx context.Context, cfg shared.SecretsConfig, log shared.Logger) (Credentials, error) {
	if cfg.APIKey != "" && cfg.AccessToken != "" {
		log.Infof("using kite credentials from environment")
		return Credentials{APIKey: cfg.APIKey, AccessToken: cfg.AccessToken}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return Credentials{}, fmt.Errorf("load aws config: %w", err)
	}
	client := secretsmanager.NewFromConfig(awsCfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(cfg.SecretName),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("fetch secret %s: %w", cfg.SecretName, err)
	}
	if out.SecretString == nil {
		return Credentials{}, fmt.Errorf("secret %s has no string payload", cfg.SecretName)
	}
	creds, err := parse([]byte(*out.SecretString), cfg.SecretName)
	if err != nil {
		return Credentials{}, err
	}
	log.Infof("fetched kite credentials from secrets manager secret %s", cfg.SecretName)
	return creds, nil
}

func parse(payload []byte, name string) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse secret %s: %w", name, err)
	}
	if creds.APIKey == "" || creds.APISecret == "" || creds.AccessToken == "" {
		return Credentials{}, fmt.Errorf("secret %s is missing API_KEY, API_SECRET or ACCESS_TOKEN", name)
	}
	return creds, nil
}
