package crypto

import (
	"fmt"

	"github.com/hcmus-labs/bftsim/pkg/encoding"
)

// Domain-separation contexts. Every struct that gets signed picks one of
// these so a signature produced for a transaction can never verify as a
// signature over a header or a vote, even if the canonical bytes happen
// to collide.
const (
	ContextTx     = "TX:"
	ContextHeader = "HEADER:"
	ContextVote   = "VOTE:"
)

// envelope is the exact shape signed and verified: a context string
// (already mixed with ChainID) alongside the payload being authenticated.
type envelope struct {
	Context string      `json:"context"`
	Payload interface{} `json:"payload"`
}

func domainContext(ctx string) string {
	return ctx + ChainID
}

// SignStruct signs payload under the given domain-separation context and
// returns the raw Ed25519 signature. payload must be a value whose fields
// serialize deterministically (see encoding.CanonicalBytes).
func SignStruct(ctx string, kp KeyPair, payload interface{}) ([]byte, error) {
	env := envelope{Context: domainContext(ctx), Payload: payload}
	b, err := encoding.CanonicalBytes(env)
	if err != nil {
		return nil, fmt.Errorf("sign struct: %w", err)
	}
	return kp.Sign(b), nil
}

// VerifyStruct recomputes the same envelope and checks sig against
// pubKeyHex. Any malformed input verifies as false rather than erroring,
// matching the silent-drop error model used throughout the simulator.
func VerifyStruct(ctx string, pubKeyHex string, payload interface{}, sig []byte) bool {
	env := envelope{Context: domainContext(ctx), Payload: payload}
	b, err := encoding.CanonicalBytes(env)
	if err != nil {
		return false
	}
	return VerifyRaw(pubKeyHex, b, sig)
}
