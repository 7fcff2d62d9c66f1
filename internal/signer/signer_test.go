package signer

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
)

const (
	strategyKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	riskKey     = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	registry, err := NewRegistry(map[string]string{
		RoleStrategy: strategyKey,
		RoleRisk:     "0x" + riskKey,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return NewSigner(registry)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	s := newTestSigner(t)

	intent, err := s.Sign(RoleStrategy, "DeFi Proposal: migrate 100 USDC from Aave to Yearn. APY gain: 7.00%")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if intent.Role != RoleStrategy {
		t.Fatalf("unexpected role: %s", intent.Role)
	}
	if !strings.HasPrefix(intent.Signature, "0x") {
		t.Fatalf("signature should be hex encoded, got %q", intent.Signature)
	}
	if !s.Verify(intent) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsTamperedIntentText(t *testing.T) {
	s := newTestSigner(t)

	intent, err := s.Sign(RoleStrategy, "migrate 100 USDC to Yearn")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	intent.IntentText = "migrate 9999 USDC to Yearn"
	if s.Verify(intent) {
		t.Fatalf("tampered intent text must not verify")
	}
}

func TestVerifyRejectsRoleSubstitution(t *testing.T) {
	s := newTestSigner(t)

	intent, err := s.Sign(RoleStrategy, "approve migration")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// A valid strategy signature presented as a risk endorsement must fail
	// because the recovered address does not match the risk role's key.
	intent.Role = RoleRisk
	if s.Verify(intent) {
		t.Fatalf("signature bound to another role must not verify")
	}
}

func TestVerifyToleratesLegacyRecoveryID(t *testing.T) {
	s := newTestSigner(t)

	intent, err := s.Sign(RoleRisk, "Risk Assessment: Aave scored 1.0/10. APPROVED.")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	raw, err := hexutil.Decode(intent.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	raw[crypto.RecoveryIDOffset] += 27
	intent.Signature = hexutil.Encode(raw)

	if !s.Verify(intent) {
		t.Fatalf("signature with V in {27,28} should verify")
	}
}

func TestVerifyRejectsMalformedInputs(t *testing.T) {
	s := newTestSigner(t)

	if s.Verify(nil) {
		t.Fatalf("nil intent must not verify")
	}

	intent, err := s.Sign(RoleStrategy, "hold position")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	empty := *intent
	empty.Signature = ""
	if s.Verify(&empty) {
		t.Fatalf("empty signature must not verify")
	}

	garbled := *intent
	garbled.Signature = "0xdeadbeef"
	if s.Verify(&garbled) {
		t.Fatalf("truncated signature must not verify")
	}

	unknown := *intent
	unknown.Role = "auditor_agent"
	if s.Verify(&unknown) {
		t.Fatalf("unregistered role must not verify")
	}
}

func TestSignUnknownRole(t *testing.T) {
	s := newTestSigner(t)

	_, err := s.Sign(RoleForecast, "forecast text")
	if err == nil {
		t.Fatalf("expected error for role without key material")
	}
	if xerrors.CodeOf(err) != xerrors.CodeSigningFailure {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}
}

func TestNewRegistrySkipsEmptyAndRejectsInvalidKeys(t *testing.T) {
	registry, err := NewRegistry(map[string]string{
		RoleStrategy: strategyKey,
		RoleRisk:     "   ",
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if roles := registry.Roles(); len(roles) != 1 || roles[0] != RoleStrategy {
		t.Fatalf("unexpected roles: %v", roles)
	}
	if _, ok := registry.AddressOf(RoleRisk); ok {
		t.Fatalf("role with empty key should not have an address")
	}

	if _, err := NewRegistry(map[string]string{RoleStrategy: "not-a-key"}); err == nil {
		t.Fatalf("expected error for malformed private key")
	}
}
