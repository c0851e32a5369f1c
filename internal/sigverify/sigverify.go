// Package sigverify validates that an order payload was authorized by
// the wallet it claims to come from. Two signature schemes are
// recognized (Ed25519/Solana-style, secp256k1/Cosmos ADR-36); a chain
// may also be configured to trust payloads without verification, for
// development.
package sigverify

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/mr-tron/base58"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
)

// Scheme identifies how a chain's order signatures are verified.
type Scheme string

const (
	SchemeEd25519Solana     Scheme = "ed25519-solana"
	SchemeSecp256k1Cosmos   Scheme = "secp256k1-cosmos"
	SchemeTrustWithoutVerify Scheme = "trust"
)

// ChainConfig describes the verification scheme for one chain ID.
type ChainConfig struct {
	Scheme Scheme
}

// OrderPayload carries everything needed to reconstruct and verify the
// canonical signed message for one order.
type OrderPayload struct {
	MarketID  string
	UserID    string
	Side      string
	Price     string
	Quantity  string
	TokenType string

	ChainID       string
	WalletAddress string
	Signature     string

	// Cosmos-only.
	SessionPubKey  string
	SessionAddress string
}

// Verifier checks order payloads against a set of configured chains.
type Verifier struct {
	chains map[string]ChainConfig
}

// NewVerifier builds a Verifier from a chainID → ChainConfig map.
func NewVerifier(chains map[string]ChainConfig) *Verifier {
	return &Verifier{chains: chains}
}

// CanonicalMessage builds the fixed-format string every scheme signs
// over: order:{marketId}:{userId}:{side}:{price}:{quantity}:{tokenType}.
// Callers must pass price/quantity in the exact textual form the client
// signed, not a reformatted decimal.
func CanonicalMessage(marketID, userID, side, price, quantity, tokenType string) []byte {
	return []byte(fmt.Sprintf("order:%s:%s:%s:%s:%s:%s", marketID, userID, side, price, quantity, tokenType))
}

// Verify checks p's signature against its claimed chain's scheme.
func (v *Verifier) Verify(p OrderPayload) error {
	cfg, ok := v.chains[p.ChainID]
	if !ok {
		return apperr.New(apperr.UnsupportedChain, "chain %s is not configured", p.ChainID)
	}

	msg := CanonicalMessage(p.MarketID, p.UserID, p.Side, p.Price, p.Quantity, p.TokenType)

	switch cfg.Scheme {
	case SchemeTrustWithoutVerify:
		return nil
	case SchemeEd25519Solana:
		return verifyEd25519Solana(p.WalletAddress, p.Signature, msg)
	case SchemeSecp256k1Cosmos:
		return verifySecp256k1Cosmos(p.SessionPubKey, p.Signature, p.SessionAddress, msg)
	default:
		return apperr.New(apperr.UnsupportedChain, "chain %s has no recognized scheme", p.ChainID)
	}
}

func verifyEd25519Solana(wallet, sig string, msg []byte) error {
	pubKeyBytes, err := base58.Decode(wallet)
	if err != nil || len(pubKeyBytes) != ed25519.PublicKeySize {
		return apperr.New(apperr.MalformedSignature, "malformed solana wallet address")
	}
	sigBytes, err := base58.Decode(sig)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return apperr.New(apperr.MalformedSignature, "malformed solana signature encoding")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKeyBytes), msg, sigBytes) {
		return apperr.New(apperr.Unauthorized, "signature does not match wallet")
	}
	return nil
}

func verifySecp256k1Cosmos(sessionPubKeyB64, sigB64, sessionAddress string, msg []byte) error {
	pubKeyBytes, err := base64.StdEncoding.DecodeString(sessionPubKeyB64)
	if err != nil {
		return apperr.New(apperr.MalformedSignature, "malformed cosmos session pubkey encoding")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sigBytes) != 64 {
		return apperr.New(apperr.MalformedSignature, "malformed cosmos signature encoding")
	}

	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return apperr.New(apperr.MalformedSignature, "invalid secp256k1 session pubkey")
	}

	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(sigBytes[:32]); overflow {
		return apperr.New(apperr.MalformedSignature, "signature r out of range")
	}
	if overflow := s.SetByteSlice(sigBytes[32:64]); overflow {
		return apperr.New(apperr.MalformedSignature, "signature s out of range")
	}
	// Reject malleable (high-S) signatures, as ADR-36 verifiers do.
	if s.IsOverHalfOrder() {
		return apperr.New(apperr.Unauthorized, "signature is malleable (high-S)")
	}

	digest := sha256.Sum256(adr36SignDoc(sessionAddress, msg))
	signature := ecdsa.NewSignature(&r, &s)
	if !signature.Verify(digest[:], pubKey) {
		return apperr.New(apperr.Unauthorized, "signature does not match session pubkey")
	}
	return nil
}

// adr36SignDoc wraps msg in the fixed ADR-36 "offline signing" amino
// sign-doc shape, JSON-serialized with alphabetically sorted keys (the
// amino JSON convention), exactly as Cosmos wallets sign arbitrary data.
func adr36SignDoc(signerAddress string, msg []byte) []byte {
	data := base64.StdEncoding.EncodeToString(msg)
	return []byte(fmt.Sprintf(
		`{"account_number":"0","chain_id":"","fee":{"amount":[],"gas":"0"},"memo":"","msgs":[{"type":"sign/MsgSignData","value":{"data":"%s","signer":"%s"}}],"sequence":"0"}`,
		data, signerAddress,
	))
}
