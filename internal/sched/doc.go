// Package sched runs the keeper's crank loop: it discovers markets on
// a fixed cadence, reconciles the registry, and cranks every due
// market in small concurrent batches.
package sched
