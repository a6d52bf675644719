// Package model defines shared domain types used across the keeper:
// market configuration, per-market health counters, resolved prices,
// crank outcomes, and stream price points.
//
// All prices are fixed-point integers with 6 decimal places (E6).
// Timestamps are Unix epoch milliseconds unless a field name says
// otherwise.
package model
