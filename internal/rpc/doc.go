// Package rpc is a minimal Solana JSON-RPC client covering exactly
// what the keeper needs: blockhash lookup, transaction submission, and
// program-account scans for market discovery. Transient failures are
// retried with exponential backoff and jitter; all calls pass through a
// shared rate limiter.
package rpc
