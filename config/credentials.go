package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrMissingCredentials is returned when the API key or secret could not be
// resolved from any source.
var ErrMissingCredentials = errors.New("missing exchange credentials")

// ParameterFetcher resolves a Parameter Store entry by name.
type ParameterFetcher func(ctx context.Context, name string, decrypt bool) (string, error)

// ResolveCredentials fills in credentials and postgres secrets that neither
// the environment nor the config file provided. Environment variables
// already take precedence over the file at Load time; the Parameter Store
// is consulted last and only for configured parameter names. A nil fetch
// uses AWS SSM.
func ResolveCredentials(ctx context.Context, cfg *Config, fetch ParameterFetcher) error {
	if fetch == nil {
		fetch = getParameterStoreValue
	}

	b := &cfg.Binance
	if err := fillFromStore(ctx, fetch, &b.APIKey, b.SSM.APIKeyParam); err != nil {
		return err
	}
	if err := fillFromStore(ctx, fetch, &b.APISecret, b.SSM.APISecretParam); err != nil {
		return err
	}

	switch {
	case b.APIKey == "" && b.APISecret == "":
		return fmt.Errorf("%w: set BINANCE_API_KEY and BINANCE_API_SECRET", ErrMissingCredentials)
	case b.APIKey == "":
		return fmt.Errorf("%w: BINANCE_API_KEY is not set", ErrMissingCredentials)
	case b.APISecret == "":
		return fmt.Errorf("%w: BINANCE_API_SECRET is not set", ErrMissingCredentials)
	}

	if cfg.Postgres.Enabled && cfg.Log.Environment == "prod" {
		p := &cfg.Postgres
		for _, f := range []struct {
			dst   *string
			param string
		}{
			{&p.Host, p.SSM.HostParam},
			{&p.User, p.SSM.UserParam},
			{&p.Password, p.SSM.PasswordParam},
		} {
			if f.param == "" {
				continue
			}
			v, err := fetch(ctx, f.param, true)
			if err != nil {
				return fmt.Errorf("postgres parameter %s: %w", f.param, err)
			}
			*f.dst = v
		}
	}
	return nil
}

func fillFromStore(ctx context.Context, fetch ParameterFetcher, dst *string, param string) error {
	if *dst != "" || param == "" {
		return nil
	}
	v, err := fetch(ctx, param, true)
	if err != nil {
		return fmt.Errorf("%w: parameter %s: %v", ErrMissingCredentials, param, err)
	}
	*dst = v
	return nil
}

func getParameterStoreValue(ctx context.Context, parameterName string, decrypt bool) (string, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctxWithTimeout)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}

	client := ssm.NewFromConfig(cfg)

	input := &ssm.GetParameterInput{
		Name:           aws.String(parameterName),
		WithDecryption: aws.Bool(decrypt),
	}

	result, err := client.GetParameter(ctxWithTimeout, input)
	if err != nil {
		return "", err
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", parameterName)
	}

	return *result.Parameter.Value, nil
}
