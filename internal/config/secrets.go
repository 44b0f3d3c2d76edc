package config

import (
	"context"
	"fmt"
	"strings"

	"go.inboxmq.dev/internal/common/secrets"
)

// secretScheme is the prefix a config value uses to defer resolution to the
// configured secrets provider instead of carrying the value in plaintext,
// e.g. POSTGRES_DSN=secret://db/primary-dsn.
const secretScheme = "secret://"

// ResolveSecrets replaces every secret://<key> reference in c's storage and
// queue connection settings with the value returned by a provider built from
// c.Secrets. It is a no-op for fields left as plain values, so backends that
// never use secret references pay no cost and need no provider configured.
func ResolveSecrets(ctx context.Context, c *Config) error {
	fields := []*string{
		&c.Storage.Postgres.DSN,
		&c.Storage.MySQL.DSN,
		&c.Storage.Mongo.URI,
		&c.Storage.Redis.Addr,
		&c.Storage.Redis.Password,
		&c.Queue.NATS.URL,
	}

	needsResolve := false
	for _, f := range fields {
		if strings.HasPrefix(*f, secretScheme) {
			needsResolve = true
			break
		}
	}
	if !needsResolve {
		return nil
	}

	provider, err := secrets.NewProvider(&c.Secrets)
	if err != nil {
		return fmt.Errorf("config: building secrets provider: %w", err)
	}

	for _, f := range fields {
		key, ok := strings.CutPrefix(*f, secretScheme)
		if !ok {
			continue
		}
		value, err := provider.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("config: resolving secret %q via %s provider: %w", key, provider.Name(), err)
		}
		*f = value
	}
	return nil
}
