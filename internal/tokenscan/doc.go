// Package tokenscan wraps the external token risk and market lookups the
// council consults before committing to a trade: GoPlus-style security
// reports for EVM and Solana tokens, and DexScreener-style pair search for
// liquidity and price context. Reports feed the safety gate that suppresses
// trade intents on tokens with honeypot flags, excessive taxes, or critical
// warnings.
package tokenscan
