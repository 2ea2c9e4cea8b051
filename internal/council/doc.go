// Package council binds the deliberation loop to the rest of the daemon.
// The Decider turns a scheduler turn into a model call, parses the trade
// and analysis commands embedded in the model's reply, and suppresses trade
// intents on tokens the safety gate flags as risky. The Coordinator owns
// the wiring: it forwards scheduler output and proposal transitions to the
// broadcast hub, hands trade intents to the multisig engine, mirrors events
// to the external relay, and dispatches authorized proposals to the
// executor.
package council
