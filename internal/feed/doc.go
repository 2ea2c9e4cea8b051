// Package feed implements the fan-out hub for the live deliberation feed.
// Every published event carries a strictly increasing global sequence number.
// Each subscriber owns a bounded queue drained by its own goroutine, so a
// slow consumer only loses its own oldest events and never blocks publishers
// or other subscribers. When events are dropped the subscriber receives a
// synthesized status event reporting the gap before newer events resume.
package feed
