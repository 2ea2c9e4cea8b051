// Package chain houses the immutable network descriptor registry shared by
// the deliberation scheduler and the multisig proposal engine. It resolves
// logical network names into uniform descriptors covering both EVM and
// Solana families, including RPC endpoints, DEX router addresses, token
// addresses, and the chain identifiers used by external analysis providers.
// The registry validates referential integrity eagerly at construction and
// is safe for unsynchronized concurrent reads afterwards.
package chain
