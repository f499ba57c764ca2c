// Package smp drives the Socialist Millionaire Protocol negotiation of each
// conversation: who asked, what was asked, how far it got and how it ended.
//
// A conversation has at most one negotiation. Starting a second one, from
// either side, is a conflict that leaves the first untouched. Outcomes are
// reported to the host; none of them changes the trust store.
package smp
