package chain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
)

// Family identifies which blockchain family a network belongs to.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

const (
	CodeChainNotFound xerrors.Code = "CHAIN_NOT_FOUND"
	CodeChainConfig   xerrors.Code = "CHAIN_CONFIG_INVALID"
)

func init() {
	xerrors.Register(CodeChainNotFound, xerrors.Attributes{
		Message:   "network not configured",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeChainConfig, xerrors.Attributes{
		Message:   "chain configuration invalid",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// Descriptor is the immutable, validated view of a configured network.
// EVMChainID is meaningful only for FamilyEVM descriptors; Cluster only for
// FamilySolana ones.
type Descriptor struct {
	Name        string
	Family      Family
	EVMChainID  uint64
	Cluster     string
	RPCURL      string
	Routers     map[string]string
	Tokens      map[string]string
	ExternalIDs map[string]string
	Description string
}

// Router returns the configured router address for the given DEX key.
func (d Descriptor) Router(dex string) (string, bool) {
	addr, ok := d.Routers[dex]
	return addr, ok
}

// Token returns the configured token address for the given symbol.
func (d Descriptor) Token(symbol string) (string, bool) {
	addr, ok := d.Tokens[symbol]
	return addr, ok
}

// ExternalID returns the provider-specific chain identifier, e.g. the
// GoPlus numeric chain id or the DexScreener slug.
func (d Descriptor) ExternalID(provider string) (string, bool) {
	id, ok := d.ExternalIDs[provider]
	return id, ok
}

// Registry resolves logical network names into descriptors. It is read-only
// after construction and therefore safe for concurrent use without locks.
type Registry struct {
	networks      map[string]Descriptor
	defaultEVM    string
	defaultSolana string
	defaultDex    string
}

// Defaults carries the configured default network/DEX selections.
type Defaults struct {
	EVM    string
	Solana string
	Dex    string
}

// NewRegistry validates the raw definitions and builds the registry.
// Any dangling reference is fatal here rather than at first use.
func NewRegistry(defs Definitions, defaults Defaults) (*Registry, error) {
	if len(defs.Chains) == 0 {
		return nil, xerrors.New(CodeChainConfig, "未配置任何网络")
	}

	networks := make(map[string]Descriptor, len(defs.Chains))
	for name, def := range defs.Chains {
		desc, err := buildDescriptor(name, def)
		if err != nil {
			return nil, err
		}
		networks[name] = desc
	}

	r := &Registry{
		networks:      networks,
		defaultEVM:    defaults.EVM,
		defaultSolana: defaults.Solana,
		defaultDex:    defaults.Dex,
	}

	if err := r.validateDefaults(); err != nil {
		return nil, err
	}
	return r, nil
}

func buildDescriptor(name string, def Definition) (Descriptor, error) {
	if strings.TrimSpace(name) == "" {
		return Descriptor{}, xerrors.New(CodeChainConfig, "网络名称不能为空")
	}
	if strings.TrimSpace(def.RPCURL) == "" {
		return Descriptor{}, xerrors.New(CodeChainConfig,
			fmt.Sprintf("网络 %s 未配置 RPC 地址", name))
	}

	family := Family(strings.ToLower(strings.TrimSpace(def.Family)))
	if family == "" {
		family = FamilyEVM
	}

	desc := Descriptor{
		Name:        name,
		Family:      family,
		RPCURL:      def.RPCURL,
		Routers:     make(map[string]string, len(def.Routers)),
		Tokens:      make(map[string]string, len(def.Tokens)),
		ExternalIDs: make(map[string]string, len(def.ExternalIDs)),
		Description: def.Description,
	}
	for provider, id := range def.ExternalIDs {
		if strings.TrimSpace(id) == "" {
			return Descriptor{}, xerrors.New(CodeChainConfig,
				fmt.Sprintf("网络 %s 的外部标识 %s 为空", name, provider))
		}
		desc.ExternalIDs[provider] = id
	}

	switch family {
	case FamilyEVM:
		id, err := strconv.ParseUint(strings.TrimSpace(def.ChainID), 10, 64)
		if err != nil || id == 0 {
			return Descriptor{}, xerrors.New(CodeChainConfig,
				fmt.Sprintf("网络 %s 的 chain_id %q 不是有效的 EVM 链标识", name, def.ChainID))
		}
		desc.EVMChainID = id
		for dex, addr := range def.Routers {
			checked, err := checksumAddress(name, "router "+dex, addr)
			if err != nil {
				return Descriptor{}, err
			}
			desc.Routers[dex] = checked
		}
		for symbol, addr := range def.Tokens {
			checked, err := checksumAddress(name, "token "+symbol, addr)
			if err != nil {
				return Descriptor{}, err
			}
			desc.Tokens[symbol] = checked
		}
	case FamilySolana:
		cluster := strings.TrimSpace(def.ChainID)
		if cluster == "" {
			return Descriptor{}, xerrors.New(CodeChainConfig,
				fmt.Sprintf("网络 %s 缺少 Solana cluster 标识", name))
		}
		desc.Cluster = cluster
		for dex, addr := range def.Routers {
			if err := validateBase58(name, "router "+dex, addr); err != nil {
				return Descriptor{}, err
			}
			desc.Routers[dex] = addr
		}
		for symbol, addr := range def.Tokens {
			if err := validateBase58(name, "token "+symbol, addr); err != nil {
				return Descriptor{}, err
			}
			desc.Tokens[symbol] = addr
		}
	default:
		return Descriptor{}, xerrors.New(CodeChainConfig,
			fmt.Sprintf("网络 %s 使用了不支持的 family %s", name, def.Family))
	}

	return desc, nil
}

// checksumAddress normalizes an EVM address to its checksum form.
func checksumAddress(network, field, addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", xerrors.New(CodeChainConfig,
			fmt.Sprintf("网络 %s 的 %s 地址 %q 不是有效的 EVM 地址", network, field, addr))
	}
	return common.HexToAddress(addr).Hex(), nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// validateBase58 performs a shape check on a Solana address.
func validateBase58(network, field, addr string) error {
	if len(addr) < 32 || len(addr) > 44 {
		return xerrors.New(CodeChainConfig,
			fmt.Sprintf("网络 %s 的 %s 地址 %q 长度不符合 Solana 地址规范", network, field, addr))
	}
	for _, r := range addr {
		if !strings.ContainsRune(base58Alphabet, r) {
			return xerrors.New(CodeChainConfig,
				fmt.Sprintf("网络 %s 的 %s 地址 %q 含有非 base58 字符", network, field, addr))
		}
	}
	return nil
}

func (r *Registry) validateDefaults() error {
	check := func(name string, family Family) error {
		if name == "" {
			return nil
		}
		desc, ok := r.networks[name]
		if !ok {
			return xerrors.New(CodeChainConfig,
				fmt.Sprintf("默认网络 %s 未在配置中找到", name))
		}
		if desc.Family != family {
			return xerrors.New(CodeChainConfig,
				fmt.Sprintf("默认网络 %s 的 family 是 %s, 期望 %s", name, desc.Family, family))
		}
		if r.defaultDex != "" && family == FamilyEVM {
			if _, ok := desc.Routers[r.defaultDex]; !ok {
				return xerrors.New(CodeChainConfig,
					fmt.Sprintf("默认网络 %s 未配置默认 DEX %s 的路由地址", name, r.defaultDex))
			}
		}
		return nil
	}
	if err := check(r.defaultEVM, FamilyEVM); err != nil {
		return err
	}
	return check(r.defaultSolana, FamilySolana)
}

// Resolve returns the descriptor for a logical network name. Resolution is
// case-sensitive and total: unknown names fail, never fall back silently.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	if r == nil {
		return Descriptor{}, xerrors.New(xerrors.CodeInitializationFailure, "链注册表未初始化")
	}
	desc, ok := r.networks[name]
	if !ok {
		return Descriptor{}, xerrors.New(CodeChainNotFound,
			fmt.Sprintf("未知的网络 %q", name))
	}
	return desc, nil
}

// ResolveDex returns the router address for a DEX on the named network.
func (r *Registry) ResolveDex(name, dex string) (string, error) {
	desc, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	addr, ok := desc.Routers[dex]
	if !ok {
		return "", xerrors.New(CodeChainNotFound,
			fmt.Sprintf("网络 %s 上未配置 DEX %q", name, dex))
	}
	return addr, nil
}

// ResolveToken returns the token address for a symbol on the named network.
func (r *Registry) ResolveToken(name, symbol string) (string, error) {
	desc, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	addr, ok := desc.Tokens[symbol]
	if !ok {
		return "", xerrors.New(CodeChainNotFound,
			fmt.Sprintf("网络 %s 上未配置代币 %q", name, symbol))
	}
	return addr, nil
}

// DefaultNetwork returns the configured default network for a family.
func (r *Registry) DefaultNetwork(family Family) (string, error) {
	var name string
	switch family {
	case FamilyEVM:
		name = r.defaultEVM
	case FamilySolana:
		name = r.defaultSolana
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("未知的链 family %q", family))
	}
	if name == "" {
		return "", xerrors.New(CodeChainNotFound,
			fmt.Sprintf("family %s 未配置默认网络", family))
	}
	return name, nil
}

// DefaultDex returns the configured default DEX key, if any.
func (r *Registry) DefaultDex() string {
	if r == nil {
		return ""
	}
	return r.defaultDex
}

// Networks returns the sorted list of configured network names.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
