// Package api exposes the REST surface of the council daemon: the live
// event feed, proposal listings, and the signing endpoints operators use to
// authorize or reject pending trade proposals.
package api
