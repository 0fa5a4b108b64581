// Package grpc carries the session's bearer token on gRPC calls to the
// platform API.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

// The metadata key the platform API reads the bearer token from.
const authorizationKey = "authorization"

// TokenSource yields the current bearer token, or "" when anonymous.
// *sessiongate.Machine implements it.
type TokenSource interface {
	Token() string
}

// BearerCredentials implements credentials.PerRPCCredentials by reading the
// token from a TokenSource at call time, so calls made after a disconnect
// never carry the old token.
type BearerCredentials struct {
	Source TokenSource

	// AllowInsecure permits use without transport security, for local
	// development against plaintext endpoints.
	AllowInsecure bool
}

// NewBearerCredentials creates per-RPC credentials backed by source.
func NewBearerCredentials(source TokenSource) *BearerCredentials {
	return &BearerCredentials{Source: source}
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (c *BearerCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token := c.Source.Token()
	if token == "" {
		return nil, nil
	}
	return map[string]string{authorizationKey: "Bearer " + token}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (c *BearerCredentials) RequireTransportSecurity() bool {
	return !c.AllowInsecure
}

var _ credentials.PerRPCCredentials = (*BearerCredentials)(nil)

// DialOption returns the grpc.DialOption attaching the session token to every
// RPC on the connection.
func DialOption(source TokenSource) grpc.DialOption {
	return grpc.WithPerRPCCredentials(NewBearerCredentials(source))
}

// WithOutgoingToken attaches a specific token to an outgoing context, for
// one-off calls outside a dialed connection's credentials.
func WithOutgoingToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authorizationKey, "Bearer "+token)
}
