package chain

import (
	"errors"
	"testing"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
)

const (
	routerAddr = "0xeE567Fe1712Faf6149d80dA1E6934E354124CfE3"
	wethAddr   = "0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14"
	usdcAddr   = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
	solMint    = "So11111111111111111111111111111111111111112"
	usdcMint   = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

func testDefinitions() Definitions {
	return Definitions{Chains: map[string]Definition{
		"sepolia": {
			Family:  "evm",
			ChainID: "11155111",
			RPCURL:  "https://rpc.sepolia.org",
			Routers: map[string]string{"uniswap_v2": routerAddr},
			Tokens:  map[string]string{"WETH": wethAddr, "USDC": usdcAddr},
			ExternalIDs: map[string]string{
				"goplus":      "11155111",
				"dexscreener": "sepolia",
			},
		},
		"solana-devnet": {
			Family:  "solana",
			ChainID: "devnet",
			RPCURL:  "https://api.devnet.solana.com",
			Tokens:  map[string]string{"SOL": solMint, "USDC": usdcMint},
			ExternalIDs: map[string]string{
				"goplus":      "solana",
				"dexscreener": "solana",
			},
		},
	}}
}

func testDefaults() Defaults {
	return Defaults{EVM: "sepolia", Solana: "solana-devnet", Dex: "uniswap_v2"}
}

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(testDefinitions(), testDefaults())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestResolveKnownNetworks(t *testing.T) {
	registry := mustRegistry(t)

	evm, err := registry.Resolve("sepolia")
	if err != nil {
		t.Fatalf("resolve sepolia: %v", err)
	}
	if evm.Family != FamilyEVM {
		t.Fatalf("expected evm family, got %s", evm.Family)
	}
	if evm.EVMChainID != 11155111 {
		t.Fatalf("expected chain id 11155111, got %d", evm.EVMChainID)
	}

	sol, err := registry.Resolve("solana-devnet")
	if err != nil {
		t.Fatalf("resolve solana-devnet: %v", err)
	}
	if sol.Family != FamilySolana {
		t.Fatalf("expected solana family, got %s", sol.Family)
	}
	if sol.Cluster != "devnet" {
		t.Fatalf("expected devnet cluster, got %s", sol.Cluster)
	}
}

func TestResolveUnknownNetwork(t *testing.T) {
	registry := mustRegistry(t)

	_, err := registry.Resolve("mainnet")
	if err == nil {
		t.Fatal("expected error for unknown network")
	}
	if xerrors.CodeOf(err) != CodeChainNotFound {
		t.Fatalf("expected CHAIN_NOT_FOUND, got %s", xerrors.CodeOf(err))
	}
	if !errors.Is(err, xerrors.New(CodeChainNotFound, "")) {
		t.Fatal("expected errors.Is match on chain not found code")
	}
}

func TestResolveIsCaseSensitive(t *testing.T) {
	registry := mustRegistry(t)
	if _, err := registry.Resolve("Sepolia"); err == nil {
		t.Fatal("resolution must be case sensitive")
	}
}

func TestResolveDexAndToken(t *testing.T) {
	registry := mustRegistry(t)

	router, err := registry.ResolveDex("sepolia", "uniswap_v2")
	if err != nil {
		t.Fatalf("resolve dex: %v", err)
	}
	if router != routerAddr {
		t.Fatalf("expected checksummed router, got %s", router)
	}

	if _, err := registry.ResolveDex("sepolia", "sushiswap"); xerrors.CodeOf(err) != CodeChainNotFound {
		t.Fatalf("expected CHAIN_NOT_FOUND for unknown dex, got %v", err)
	}

	token, err := registry.ResolveToken("sepolia", "WETH")
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if token != wethAddr {
		t.Fatalf("expected checksummed token, got %s", token)
	}

	if _, err := registry.ResolveToken("sepolia", "DOGE"); xerrors.CodeOf(err) != CodeChainNotFound {
		t.Fatalf("expected CHAIN_NOT_FOUND for unknown token, got %v", err)
	}
}

func TestChecksumNormalization(t *testing.T) {
	defs := testDefinitions()
	def := defs.Chains["sepolia"]
	def.Tokens = map[string]string{"WETH": "0xfff9976782d46cc05630d1f6ebab18b2324d6b14"}
	defs.Chains["sepolia"] = def

	registry, err := NewRegistry(defs, testDefaults())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	token, err := registry.ResolveToken("sepolia", "WETH")
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if token != wethAddr {
		t.Fatalf("expected checksum normalization, got %s", token)
	}
}

func TestDefaults(t *testing.T) {
	registry := mustRegistry(t)

	evm, err := registry.DefaultNetwork(FamilyEVM)
	if err != nil || evm != "sepolia" {
		t.Fatalf("expected sepolia default, got %s (%v)", evm, err)
	}
	sol, err := registry.DefaultNetwork(FamilySolana)
	if err != nil || sol != "solana-devnet" {
		t.Fatalf("expected solana-devnet default, got %s (%v)", sol, err)
	}
	if registry.DefaultDex() != "uniswap_v2" {
		t.Fatalf("expected uniswap_v2 default dex, got %s", registry.DefaultDex())
	}
}

func TestExternalIDs(t *testing.T) {
	registry := mustRegistry(t)

	desc, err := registry.Resolve("sepolia")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	id, ok := desc.ExternalID("goplus")
	if !ok || id != "11155111" {
		t.Fatalf("expected goplus id 11155111, got %q (%v)", id, ok)
	}
	if _, ok := desc.ExternalID("coingecko"); ok {
		t.Fatal("unexpected external id for unconfigured provider")
	}
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Definitions, *Defaults)
	}{
		{"empty definitions", func(defs *Definitions, _ *Defaults) {
			defs.Chains = map[string]Definition{}
		}},
		{"bad evm chain id", func(defs *Definitions, _ *Defaults) {
			def := defs.Chains["sepolia"]
			def.ChainID = "not-a-number"
			defs.Chains["sepolia"] = def
		}},
		{"bad evm address", func(defs *Definitions, _ *Defaults) {
			def := defs.Chains["sepolia"]
			def.Tokens = map[string]string{"WETH": "0x1234"}
			defs.Chains["sepolia"] = def
		}},
		{"missing rpc url", func(defs *Definitions, _ *Defaults) {
			def := defs.Chains["sepolia"]
			def.RPCURL = ""
			defs.Chains["sepolia"] = def
		}},
		{"bad solana address", func(defs *Definitions, _ *Defaults) {
			def := defs.Chains["solana-devnet"]
			def.Tokens = map[string]string{"SOL": "0OIl"}
			defs.Chains["solana-devnet"] = def
		}},
		{"unknown family", func(defs *Definitions, _ *Defaults) {
			def := defs.Chains["sepolia"]
			def.Family = "cosmos"
			defs.Chains["sepolia"] = def
		}},
		{"unknown default network", func(_ *Definitions, defaults *Defaults) {
			defaults.EVM = "holesky"
		}},
		{"default family mismatch", func(_ *Definitions, defaults *Defaults) {
			defaults.EVM = "solana-devnet"
		}},
		{"default dex missing on default network", func(_ *Definitions, defaults *Defaults) {
			defaults.Dex = "pancakeswap"
		}},
	}

	for _, tc := range cases {
		defs := testDefinitions()
		defaults := testDefaults()
		tc.mutate(&defs, &defaults)
		if _, err := NewRegistry(defs, defaults); err == nil {
			t.Fatalf("%s: expected construction to fail", tc.name)
		} else if xerrors.CodeOf(err) != CodeChainConfig {
			t.Fatalf("%s: expected CHAIN_CONFIG_INVALID, got %s", tc.name, xerrors.CodeOf(err))
		}
	}
}

func TestNetworksSorted(t *testing.T) {
	registry := mustRegistry(t)
	names := registry.Networks()
	if len(names) != 2 || names[0] != "sepolia" || names[1] != "solana-devnet" {
		t.Fatalf("unexpected network list: %v", names)
	}
}
