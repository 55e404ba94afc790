// Package testutil provides shared helpers for cipherpool tests: a manual
// clock for stepping through cooldown windows, ledger address generators,
// small functional-option test configs, and an event collector sink.
//
// This package is intended for testing purposes only and should not be used
// in production code.
package testutil
