package ticket

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	portverifier "github.com/alanyang/domain-server/internal/port/verifier"
)

// Verifier checks session tickets signed offline by the identity platform.
//
// Ticket format: "<uuid>:<signature>" where the signature is the Base64
// ED25519 signature of the UUID string. The server holds only the public key.
type Verifier struct {
	publicKey ed25519.PublicKey
}

// NewVerifier creates a Verifier from a Base64-encoded public key.
func NewVerifier(publicKeyBase64 string) (*Verifier, error) {
	if publicKeyBase64 == "" {
		return nil, fmt.Errorf("ticket public key not configured")
	}

	publicKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoded public key: %w", err)
	}

	if len(publicKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key size: expected %d, got %d", ed25519.PublicKeySize, len(publicKeyBytes))
	}

	return &Verifier{publicKey: ed25519.PublicKey(publicKeyBytes)}, nil
}

// Verify returns the identity the ticket was issued for.
func (v *Verifier) Verify(ctx context.Context, token []byte) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	idStr, signature, err := parseTicket(string(token))
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: identity: %v", portverifier.ErrInvalidTicket, err)
	}

	signatureBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: signature encoding: %v", portverifier.ErrInvalidTicket, err)
	}

	if !ed25519.Verify(v.publicKey, []byte(idStr), signatureBytes) {
		return uuid.Nil, fmt.Errorf("%w: signature mismatch for %s", portverifier.ErrInvalidTicket, id)
	}
	return id, nil
}

// Sign issues a ticket for id. Used by tooling and tests; the server itself
// never holds a private key.
func Sign(key ed25519.PrivateKey, id uuid.UUID) []byte {
	s := id.String()
	return []byte(s + ":" + base64.StdEncoding.EncodeToString(ed25519.Sign(key, []byte(s))))
}

func parseTicket(token string) (id, signature string, err error) {
	i := strings.LastIndex(token, ":")

	if i < 1 || i == len(token)-1 {
		return "", "", fmt.Errorf("%w: expected '<uuid>:<signature>'", portverifier.ErrInvalidTicket)
	}
	return token[:i], token[i+1:], nil
}

// Disabled rejects every ticket. It stands in when no public key is configured.
type Disabled struct{}

func (Disabled) Verify(context.Context, []byte) (uuid.UUID, error) {
	return uuid.Nil, fmt.Errorf("%w: ticket verification not configured", portverifier.ErrInvalidTicket)
}
