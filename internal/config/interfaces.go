package config

import "context"

// SecretProvider resolves SSM parameter paths to plaintext values.
// Implementations batch their upstream calls.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
