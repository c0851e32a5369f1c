package sigverify

import (
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/BakaOtaku/robet-ai/internal/apperr"
)

func TestVerify_Ed25519Solana(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	v := NewVerifier(map[string]ChainConfig{
		"solana-devnet": {Scheme: SchemeEd25519Solana},
	})

	msg := CanonicalMessage("m1", "u1", "BUY", "0.5", "10", "YES")
	sig := ed25519.Sign(priv, msg)

	payload := OrderPayload{
		MarketID: "m1", UserID: "u1", Side: "BUY", Price: "0.5", Quantity: "10", TokenType: "YES",
		ChainID:       "solana-devnet",
		WalletAddress: base58.Encode(pub),
		Signature:     base58.Encode(sig),
	}

	if err := v.Verify(payload); err != nil {
		t.Fatalf("expected valid signature to verify, got: %v", err)
	}

	t.Run("tampered price fails", func(t *testing.T) {
		tampered := payload
		tampered.Price = "0.9"
		err := v.Verify(tampered)
		if !apperr.Is(err, apperr.Unauthorized) {
			t.Fatalf("expected Unauthorized, got %v", err)
		}
	})

	t.Run("malformed signature encoding", func(t *testing.T) {
		tampered := payload
		tampered.Signature = "not-base58!!!"
		err := v.Verify(tampered)
		if !apperr.Is(err, apperr.MalformedSignature) {
			t.Fatalf("expected MalformedSignature, got %v", err)
		}
	})

	t.Run("unsupported chain", func(t *testing.T) {
		tampered := payload
		tampered.ChainID = "unknown-chain"
		err := v.Verify(tampered)
		if !apperr.Is(err, apperr.UnsupportedChain) {
			t.Fatalf("expected UnsupportedChain, got %v", err)
		}
	})
}

func TestVerify_TrustWithoutVerify(t *testing.T) {
	v := NewVerifier(map[string]ChainConfig{
		"devnet": {Scheme: SchemeTrustWithoutVerify},
	})
	payload := OrderPayload{
		MarketID: "m1", UserID: "u1", Side: "SELL", Price: "0.3", Quantity: "5", TokenType: "NO",
		ChainID: "devnet", WalletAddress: "anything", Signature: "unsigned",
	}
	if err := v.Verify(payload); err != nil {
		t.Fatalf("trust scheme should never fail verification, got: %v", err)
	}
}

func TestCanonicalMessage_Format(t *testing.T) {
	got := string(CanonicalMessage("mkt", "usr", "BUY", "0.42", "7", "YES"))
	want := "order:mkt:usr:BUY:0.42:7:YES"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
