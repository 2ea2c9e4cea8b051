package executor

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chain"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
)

const (
	testRouter = "0xeE567Fe1712Faf6149d80dA1E6934E354124CfE3"
	testWETH   = "0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14"
	testUSDC   = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
	recipient  = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func testRegistry(t *testing.T) *chain.Registry {
	t.Helper()
	registry, err := chain.NewRegistry(chain.Definitions{Chains: map[string]chain.Definition{
		"sepolia": {
			Family:  "evm",
			ChainID: "11155111",
			RPCURL:  "https://rpc.sepolia.org",
			Routers: map[string]string{"uniswap_v2": testRouter},
			Tokens:  map[string]string{"WETH": testWETH, "USDC": testUSDC},
		},
		"solana-devnet": {
			Family:  "solana",
			ChainID: "devnet",
			RPCURL:  "https://api.devnet.solana.com",
			Tokens: map[string]string{
				"SOL":  "So11111111111111111111111111111111111111112",
				"USDC": "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			},
		},
	}}, chain.Defaults{EVM: "sepolia", Solana: "solana-devnet", Dex: "uniswap_v2"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return registry
}

func TestBuildSwapCalldata(t *testing.T) {
	executor, err := NewEVMExecutor(testRegistry(t), LoggingEVMSubmitter{}, recipient)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	calldata, err := executor.buildSwapCalldata(testWETH, testUSDC, 0.5)
	if err != nil {
		t.Fatalf("build calldata: %v", err)
	}

	// swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
	if got := hex.EncodeToString(calldata[:4]); got != "38ed1739" {
		t.Fatalf("unexpected selector %s", got)
	}

	unpacked, err := executor.router.Methods["swapExactTokensForTokens"].Inputs.Unpack(calldata[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	amountIn, ok := unpacked[0].(*big.Int)
	if !ok {
		t.Fatalf("unexpected amountIn type %T", unpacked[0])
	}
	if want := big.NewInt(5e17); amountIn.Cmp(want) != 0 {
		t.Fatalf("expected 0.5 ether in wei, got %s", amountIn)
	}
}

func TestToWei(t *testing.T) {
	wei, err := toWei(1.5)
	if err != nil {
		t.Fatalf("toWei: %v", err)
	}
	if want := new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17)); wei.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, wei)
	}

	if _, err := toWei(0); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if _, err := toWei(-1); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestNewEVMExecutorRejectsBadRecipient(t *testing.T) {
	if _, err := NewEVMExecutor(testRegistry(t), LoggingEVMSubmitter{}, "not-an-address"); err == nil {
		t.Fatal("expected error for invalid recipient")
	}
}

type stubExecutor struct {
	calls int
}

func (s *stubExecutor) Execute(context.Context, multisig.Proposal) error {
	s.calls++
	return nil
}

func TestDispatcherRoutesByFamily(t *testing.T) {
	evm := &stubExecutor{}
	solana := &stubExecutor{}
	dispatcher := NewDispatcher(testRegistry(t), evm, solana)

	evmProposal := multisig.Proposal{ID: "p-1", Network: "sepolia", Dex: "uniswap_v2", TokenIn: "WETH", TokenOut: "USDC", Amount: 1}
	if err := dispatcher.Execute(context.Background(), evmProposal); err != nil {
		t.Fatalf("dispatch evm: %v", err)
	}
	solProposal := multisig.Proposal{ID: "p-2", Network: "solana-devnet", Dex: "raydium", TokenIn: "SOL", TokenOut: "USDC", Amount: 1}
	if err := dispatcher.Execute(context.Background(), solProposal); err != nil {
		t.Fatalf("dispatch solana: %v", err)
	}

	if evm.calls != 1 || solana.calls != 1 {
		t.Fatalf("expected one call each, got evm=%d solana=%d", evm.calls, solana.calls)
	}

	unknown := multisig.Proposal{ID: "p-3", Network: "mainnet"}
	if err := dispatcher.Execute(context.Background(), unknown); err == nil {
		t.Fatal("expected error for unknown network")
	}
}

func TestDispatcherMissingFamilyExecutor(t *testing.T) {
	dispatcher := NewDispatcher(testRegistry(t), &stubExecutor{}, nil)
	proposal := multisig.Proposal{ID: "p-1", Network: "solana-devnet"}
	if err := dispatcher.Execute(context.Background(), proposal); err == nil {
		t.Fatal("expected error when family executor is missing")
	}
}
