package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Operation labels understood by the interpreter and the flow tables.
const (
	OpAssociateTokens  = "associate_tokens"
	OpApproveAllowance = "approve_allowance"
	OpStakeDeposit     = "stake_deposit"
)

// Step labels for the multi-step staking flow.
const (
	StepTokenAssociation = "token_association"
	StepTokenApproval    = "token_approval"
	StepStake            = "stake"
)

// IntegrationFamily identifies observations produced by this package's
// tools when the interpreter routes heterogeneous results.
const IntegrationFamily = "defi"

const (
	associateABI = `[{"name":"associateTokens","type":"function","inputs":[{"name":"account","type":"address"},{"name":"tokens","type":"address[]"}]}]`
	erc20ABI     = `[{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}]}]`
	stakingABI   = `[{"name":"deposit","type":"function","inputs":[{"name":"amount","type":"uint256"}]}]`
)

// Config describes the chain endpoints and well-known contracts used to
// assemble unsigned transactions.
type Config struct {
	RPCURL              string
	ChainID             int64
	AssociationContract string
	StakingContract     string
	GasLimit            uint64
}

// Builder assembles unsigned, serialized transactions that the remote
// wallet signs and broadcasts out-of-band. The builder never holds keys
// and never submits anything itself.
type Builder struct {
	cfg       Config
	registry  *TokenRegistry
	rpcClient *gethrpc.Client
	eth       *ethclient.Client

	mu     sync.Mutex
	abis   map[string]abi.ABI
	nonces map[common.Address]uint64
}

// NewBuilder parses the embedded ABIs and, when an RPC endpoint is
// configured, dials it for nonce and gas price discovery. Without an
// endpoint the builder falls back to deterministic offline defaults,
// which is sufficient for payload construction and tests.
func NewBuilder(ctx context.Context, cfg Config, registry *TokenRegistry) (*Builder, error) {
	if cfg.ChainID <= 0 {
		return nil, errors.New("chain id must be positive")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 400_000
	}

	abis := make(map[string]abi.ABI, 3)
	for name, raw := range map[string]string{
		OpAssociateTokens:  associateABI,
		OpApproveAllowance: erc20ABI,
		OpStakeDeposit:     stakingABI,
	} {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s abi: %w", name, err)
		}
		abis[name] = parsed
	}

	b := &Builder{
		cfg:      cfg,
		registry: registry,
		abis:     abis,
		nonces:   make(map[common.Address]uint64),
	}

	if rpcURL := strings.TrimSpace(cfg.RPCURL); rpcURL != "" {
		rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, fmt.Errorf("dial chain rpc: %w", err)
		}
		b.rpcClient = rpcClient
		b.eth = ethclient.NewClient(rpcClient)
	}
	return b, nil
}

// Close releases the RPC connection if one was established.
func (b *Builder) Close() {
	if b == nil || b.rpcClient == nil {
		return
	}
	b.rpcClient.Close()
	b.rpcClient = nil
	b.eth = nil
}

// Registry exposes the token registry used for display-name lookups.
func (b *Builder) Registry() *TokenRegistry {
	if b == nil {
		return nil
	}
	return b.registry
}

// AssociateTokens builds the unsigned transaction that associates the
// account with the given token addresses.
func (b *Builder) AssociateTokens(ctx context.Context, account string, tokens []string) ([]byte, error) {
	if len(tokens) == 0 {
		return nil, errors.New("at least one token is required")
	}
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid account address %q", account)
	}
	addrs := make([]common.Address, 0, len(tokens))
	for _, token := range tokens {
		if !common.IsHexAddress(token) {
			return nil, fmt.Errorf("invalid token address %q", token)
		}
		addrs = append(addrs, common.HexToAddress(token))
	}
	calldata, err := b.abis[OpAssociateTokens].Pack("associateTokens", common.HexToAddress(account), addrs)
	if err != nil {
		return nil, fmt.Errorf("pack associateTokens: %w", err)
	}
	return b.assemble(ctx, common.HexToAddress(account), b.cfg.AssociationContract, calldata)
}

// Approve builds the unsigned ERC-20 approve transaction granting the
// spender an allowance over the token.
func (b *Builder) Approve(ctx context.Context, account, token, spender string, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.New("approve amount must be positive")
	}
	for _, addr := range []string{account, token, spender} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid address %q", addr)
		}
	}
	calldata, err := b.abis[OpApproveAllowance].Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return b.assemble(ctx, common.HexToAddress(account), token, calldata)
}

// Stake builds the unsigned deposit transaction against the staking
// contract.
func (b *Builder) Stake(ctx context.Context, account string, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.New("stake amount must be positive")
	}
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid account address %q", account)
	}
	calldata, err := b.abis[OpStakeDeposit].Pack("deposit", amount)
	if err != nil {
		return nil, fmt.Errorf("pack deposit: %w", err)
	}
	return b.assemble(ctx, common.HexToAddress(account), b.cfg.StakingContract, calldata)
}

func (b *Builder) assemble(ctx context.Context, from common.Address, to string, calldata []byte) ([]byte, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid contract address %q", to)
	}
	target := common.HexToAddress(to)

	nonce, err := b.nextNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := b.gasPrice(ctx)
	if err != nil {
		return nil, err
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &target,
		Value:    big.NewInt(0),
		Gas:      b.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	encoded, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return encoded, nil
}

func (b *Builder) nextNonce(ctx context.Context, from common.Address) (uint64, error) {
	if b.eth != nil {
		nonce, err := b.eth.PendingNonceAt(ctx, from)
		if err != nil {
			return 0, fmt.Errorf("fetch pending nonce: %w", err)
		}
		return nonce, nil
	}
	// Offline mode: count locally so multi-step flows still produce
	// strictly increasing nonces within one process lifetime.
	b.mu.Lock()
	defer b.mu.Unlock()
	nonce := b.nonces[from]
	b.nonces[from] = nonce + 1
	return nonce, nil
}

func (b *Builder) gasPrice(ctx context.Context) (*big.Int, error) {
	if b.eth != nil {
		price, err := b.eth.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		return price, nil
	}
	return big.NewInt(1_000_000_000), nil
}
