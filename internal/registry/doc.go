// Package registry tracks discovered markets and their per-market
// health counters. It is deliberately free of network and timer side
// effects: discovery reconciliation and crank outcomes are pushed in by
// the scheduler, which keeps the eviction and deactivation policy
// testable without mocking a clock or RPC node.
package registry
