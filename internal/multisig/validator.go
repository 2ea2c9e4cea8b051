package multisig

import (
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chain"
)

// RegistryValidator 返回基于链注册表的意向校验函数，供 WithValidator 注入。
// 网络、DEX 与交易对的两个代币必须全部可解析，否则提案不会进入待签名状态。
func RegistryValidator(registry *chain.Registry) func(Intent) error {
	return func(intent Intent) error {
		if _, err := registry.ResolveDex(intent.Network, intent.Dex); err != nil {
			return err
		}
		if _, err := registry.ResolveToken(intent.Network, intent.TokenIn); err != nil {
			return err
		}
		if _, err := registry.ResolveToken(intent.Network, intent.TokenOut); err != nil {
			return err
		}
		return nil
	}
}
