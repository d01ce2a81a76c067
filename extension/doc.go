// Package extension provides the run-time registries that let conveyor work
// with action services and their Go input/output types.
//
// The registries are normally populated through the public APIs of the root
// conveyor package, therefore most applications do not need to import this
// package directly.
package extension
