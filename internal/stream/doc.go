// Package stream keeps a live mark-price feed per tracked market by
// subscribing to account updates over the RPC node's WebSocket pubsub
// endpoint.
package stream
