package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	testAccount     = "0x1111111111111111111111111111111111111111"
	testToken       = "0x2222222222222222222222222222222222222222"
	testAssociation = "0x0000000000000000000000000000000000167b2b"
	testStaking     = "0x00000000000000000000000000000000002e7a5d"
)

func newOfflineBuilder(t *testing.T) *Builder {
	t.Helper()
	builder, err := NewBuilder(context.Background(), Config{
		ChainID:             295,
		AssociationContract: testAssociation,
		StakingContract:     testStaking,
	}, nil)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return builder
}

func decodeTx(t *testing.T, payload []byte) *coretypes.Transaction {
	t.Helper()
	tx := new(coretypes.Transaction)
	if err := tx.UnmarshalBinary(payload); err != nil {
		t.Fatalf("payload is not a valid serialized transaction: %v", err)
	}
	return tx
}

func TestNewBuilderValidation(t *testing.T) {
	if _, err := NewBuilder(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected error for missing chain id")
	}
}

func TestAssociateTokensBuildsPayload(t *testing.T) {
	builder := newOfflineBuilder(t)

	payload, err := builder.AssociateTokens(context.Background(), testAccount, []string{testToken})
	if err != nil {
		t.Fatalf("AssociateTokens failed: %v", err)
	}
	tx := decodeTx(t, payload)

	if tx.To() == nil || *tx.To() != common.HexToAddress(testAssociation) {
		t.Fatalf("unexpected target contract: %v", tx.To())
	}
	if tx.Gas() != 400_000 {
		t.Fatalf("unexpected gas limit: %d", tx.Gas())
	}
	wantID := builder.abis[OpAssociateTokens].Methods["associateTokens"].ID
	if got := tx.Data()[:4]; string(got) != string(wantID) {
		t.Fatalf("calldata selector mismatch: got %x want %x", got, wantID)
	}
}

func TestOfflineNoncesStrictlyIncrease(t *testing.T) {
	builder := newOfflineBuilder(t)

	first, err := builder.Stake(context.Background(), testAccount, big.NewInt(50))
	if err != nil {
		t.Fatalf("first Stake failed: %v", err)
	}
	second, err := builder.Stake(context.Background(), testAccount, big.NewInt(50))
	if err != nil {
		t.Fatalf("second Stake failed: %v", err)
	}

	if n1, n2 := decodeTx(t, first).Nonce(), decodeTx(t, second).Nonce(); n2 != n1+1 {
		t.Fatalf("nonces must increase across builds: %d then %d", n1, n2)
	}
}

func TestApproveValidation(t *testing.T) {
	builder := newOfflineBuilder(t)
	ctx := context.Background()

	if _, err := builder.Approve(ctx, testAccount, testToken, testStaking, nil); err == nil {
		t.Fatal("expected error for nil amount")
	}
	if _, err := builder.Approve(ctx, testAccount, testToken, testStaking, big.NewInt(-1)); err == nil {
		t.Fatal("expected error for negative amount")
	}
	if _, err := builder.Approve(ctx, "0.0.1001", testToken, testStaking, big.NewInt(1)); err == nil {
		t.Fatal("expected error for non-hex account")
	}
}

func TestApproveTargetsToken(t *testing.T) {
	builder := newOfflineBuilder(t)

	payload, err := builder.Approve(context.Background(), testAccount, testToken, testStaking, big.NewInt(100))
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	tx := decodeTx(t, payload)
	if tx.To() == nil || *tx.To() != common.HexToAddress(testToken) {
		t.Fatalf("approve must target the token contract, got %v", tx.To())
	}
	wantID := builder.abis[OpApproveAllowance].Methods["approve"].ID
	if got := tx.Data()[:4]; string(got) != string(wantID) {
		t.Fatalf("calldata selector mismatch: got %x want %x", got, wantID)
	}
}

func TestStakeValidation(t *testing.T) {
	builder := newOfflineBuilder(t)

	if _, err := builder.Stake(context.Background(), testAccount, big.NewInt(0)); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if _, err := builder.AssociateTokens(context.Background(), testAccount, nil); err == nil {
		t.Fatal("expected error for empty token list")
	}
}

func TestAssembleRejectsBadContract(t *testing.T) {
	builder, err := NewBuilder(context.Background(), Config{ChainID: 295, StakingContract: "not-an-address"}, nil)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if _, err := builder.Stake(context.Background(), testAccount, big.NewInt(1)); err == nil {
		t.Fatal("expected error for invalid staking contract address")
	}
}
