// Package submit turns instruction lists into signed, on-chain
// transactions. A replay guard absorbs duplicate submissions for the
// same key inside a short window, and transient send failures are
// retried with a fresh blockhash on every attempt.
package submit
