package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jina-ai/gateway-streamer-go/pool"
	"github.com/jina-ai/gateway-streamer-go/topology"
)

// EnvVar is the environment variable a parent process sets so a child
// process can reconstruct an equivalent Gateway via FromEnv, without
// re-deriving the topology/pool configuration from scratch.
const EnvVar = "GATEWAY_STREAMER_ARGS"

// Args is the JSON-serializable subset of a Gateway's configuration.
// Edge conditions are functions and cannot round-trip through JSON, so a
// Gateway reconstructed via FromEnv always sees every edge as
// unconditional; callers relying on conditional routing must not hand off
// across a process boundary this way.
type Args struct {
	Representation map[string][]string             `json:"representation"`
	Deployments    map[string]*topology.Deployment `json:"deployments"`

	PoolRetries     int    `json:"pool_retries"`
	PoolCompression string `json:"pool_compression"`

	StreamerPrefetch int `json:"streamer_prefetch"`
}

// Encode serializes Args to the string form stored in EnvVar.
func (a Args) Encode() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("gateway: encode args: %w", err)
	}
	return string(data), nil
}

// DecodeArgs parses the string form Encode produces.
func DecodeArgs(s string) (Args, error) {
	var a Args
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return Args{}, fmt.Errorf("gateway: decode args: %w", err)
	}
	return a, nil
}

// FromEnv reconstructs a Gateway from EnvVar, builds its pool connections,
// and runs Setup before returning.
func FromEnv(ctx context.Context) (*Gateway, error) {
	raw, ok := os.LookupEnv(EnvVar)
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("%s is not set", EnvVar)}
	}
	args, err := DecodeArgs(raw)
	if err != nil {
		return nil, err
	}

	g, err := New(Config{
		Representation: args.Representation,
		Deployments:    args.Deployments,
	},
		WithPoolOptions(pool.WithRetries(args.PoolRetries), pool.WithCompression(args.PoolCompression)),
		WithPrefetch(args.StreamerPrefetch),
	)
	if err != nil {
		return nil, err
	}
	if err := g.Setup(ctx); err != nil {
		return nil, err
	}
	return g, nil
}
