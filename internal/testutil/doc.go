// Package testutil provides shared test helpers and fixtures for cmdgate.
//
// Philosophy:
// - Prefer real SQLite (no mocks) for journal correctness.
// - Keep helpers small, composable, and deterministic.
// - Register cleanup via t.Cleanup so tests stay leak-free.
//
// Most packages should start with:
//
//	jnl := testutil.NewTestJournal(t)
//	engine := testutil.NewStubEngine("Sure.\nCOMMAND: echo hi")
package testutil
