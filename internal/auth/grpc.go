package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// verifyMethod is the fully-qualified gRPC method a remote credential
// service must implement to back a GRPCBackend.
const verifyMethod = "/maild.auth.v1.AuthBackend/Verify"

const codecName = "maild-auth-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the auth RPC exchange plain JSON-tagged structs instead of
// requiring a protoc-generated message type for this one narrow call —
// grpc-go's codec registry is designed for exactly this kind of
// substitution (see google.golang.org/grpc/encoding).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

type verifyRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type verifyResponse struct {
	Outcome  int32  `json:"outcome"`
	Identity string `json:"identity"`
}

// GRPCBackend verifies credentials against a remote service over
// google.golang.org/grpc, re-homing the dependency the teacher otherwise
// only used for its subprocess session-management IPC onto the core
// authentication contract (§4.8, "new, domain-stack expansion").
type GRPCBackend struct {
	conn *grpc.ClientConn
}

// NewGRPCBackend dials address with insecure transport credentials; TLS is
// never negotiated. Deployments typically run the auth service on a
// private network, matching
// how the teacher's own session-manager subprocess protocol is dialed
// over a local-only channel.
func NewGRPCBackend(address string) (*GRPCBackend, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("auth: dialing grpc backend %s: %w", address, err)
	}
	return &GRPCBackend{conn: conn}, nil
}

// Verify performs the remote credential check.
func (b *GRPCBackend) Verify(ctx context.Context, user, password string) (Result, error) {
	req := &verifyRequest{User: user, Password: password}
	resp := &verifyResponse{}

	err := b.conn.Invoke(ctx, verifyMethod, req, resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		return Result{Outcome: OutcomeUnavailable}, fmt.Errorf("auth: grpc verify: %w", err)
	}

	return Result{Outcome: Outcome(resp.Outcome), Identity: resp.Identity}, nil
}

// Close tears down the gRPC connection.
func (b *GRPCBackend) Close() error {
	return b.conn.Close()
}
