// Package txn builds and signs legacy Solana transactions for the
// keeper's crank and price-push instructions. The instruction payloads
// are opaque contracts owned by the on-chain program; this package only
// encodes them and never interprets execution results.
package txn
