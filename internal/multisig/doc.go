// Package multisig owns the lifecycle of trade proposals: creation against
// the chain registry, per-proposal serialized signature collection, explicit
// rejection, and TTL-based expiry. A proposal transitions to Authorized
// exactly once, the instant the required number of distinct signatures has
// been collected; the engine never submits transactions itself.
package multisig
