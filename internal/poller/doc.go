// Package poller keeps persisted connection statuses honest.
//
// The Status Poller periodically compares every config marked active in
// the store against the live registry. Configs whose connection is gone
// or has given up (reconnects exhausted, auto-reconnect off) are flipped
// to the error status so listings reflect what is actually running.
package poller
