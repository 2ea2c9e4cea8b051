// Package deliberate drives the daily discussion simulation. A scheduler
// walks a fixed roster of agents through a configured number of rounds per
// day, records their turns in a bounded per-day window, and condenses each
// day into a synopsis. Agent decisions and synopsis generation are opaque
// collaborators invoked with timeouts; a failing agent costs only its own
// turn and a failing summarizer degrades to a placeholder synopsis. Round
// and agent ordering is deterministic so a run with fixed inputs replays
// identically.
package deliberate
