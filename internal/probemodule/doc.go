// Package probemodule encodes the small WASM module used to dirty linear
// memory from inside the sandbox.
package probemodule
