// Package testing provides a reusable property test and benchmark suite
// for hstat engine configurations.
//
// The engine can aggregate through its built-in delta accumulator or
// through a subsystem-supplied flush callback. Both configurations must
// satisfy the same contract (no lost updates, idempotent double flush,
// dirty-closure, ordered folding), so the suite is written once against a
// small Harness adapter and run for every configuration:
//
//	func Test(t *testing.T) {
//		enginetesting.RunEngineTests(t, "BaseStat", newBaseHarness)
//	}
//
// The suite drives the engine exclusively through the public API plus the
// harness callbacks; configuration-specific internals stay in the harness.
package testing
