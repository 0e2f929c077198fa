// Package secrets fetches the pricing provider API key.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrEmptySecret is returned when the secret exists but carries no key.
var ErrEmptySecret = errors.New("pricing API key is empty")

// Provider returns the pricing API key. Callers fetch it once per job.
type Provider interface {
	PricingAPIKey(ctx context.Context) (string, error)
}

// Env reads the key from an environment variable.
type Env struct {
	Name   string
	lookup func(string) (string, bool)
}

func NewEnv(name string) *Env {
	return &Env{Name: name, lookup: os.LookupEnv}
}

func (e *Env) PricingAPIKey(context.Context) (string, error) {
	value, ok := e.lookup(e.Name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", e.Name)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s: %w", e.Name, ErrEmptySecret)
	}
	return value, nil
}

// SecretsManagerAPI is the subset of *secretsmanager.Client used by AWS.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWS reads the key from AWS Secrets Manager. The secret may be the bare key
// or a JSON object holding it under apiKey or api_key.
type AWS struct {
	client SecretsManagerAPI
	name   string
}

func NewAWS(client SecretsManagerAPI, name string) *AWS {
	return &AWS{client: client, name: name}
}

func (a *AWS) PricingAPIKey(ctx context.Context) (string, error) {
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", a.name, err)
	}
	raw := strings.TrimSpace(aws.ToString(out.SecretString))
	key, err := extractKey(raw)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", a.name, err)
	}
	return key, nil
}

func extractKey(raw string) (string, error) {
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", ErrEmptySecret
		}
		return raw, nil
	}

	var doc map[string]string
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("decode secret json: %w", err)
	}
	for _, field := range []string{"apiKey", "api_key", "ISBNDB_API_KEY"} {
		if v := strings.TrimSpace(doc[field]); v != "" {
			return v, nil
		}
	}
	return "", ErrEmptySecret
}
