// Package store persists crank outcomes to PostgreSQL. It is an
// optional operational sink: the keeper runs identically with it
// disabled.
package store
