// Package auth defines API key authentication for the admin surface.
package auth

import "context"

// APIKeyInfo is a stored admin API key. Only the HMAC-SHA256 hash of the key
// is persisted.
type APIKeyInfo struct {
	KeyHash string
	Label   string
}

// Repository provides API key lookups.
type Repository interface {
	// FindByHash looks up an API key by its HMAC-SHA256 hash.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
