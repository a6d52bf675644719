// Package price resolves a trustworthy token price for admin-oracle
// markets. It cascades across two independent external REST sources,
// deduplicates concurrent lookups so at most one outbound fetch per
// token is in flight, and falls back to a short-lived cache when both
// sources fail.
package price
