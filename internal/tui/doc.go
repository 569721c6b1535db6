// Package tui provides the terminal queue monitor behind `taskloom watch`.
//
// The monitor polls a Source on a fixed interval and renders:
//   - Task counts per status and the processor control state
//   - The most recent tasks with their function, entity and error
//   - Planners with their plan progress
//
// Keys: tab switches panels, j/k move the selection, / filters tasks by
// function or entity, p/r/s pause, resume and stop the processor, q quits.
//
// Usage:
//
//	source := tui.StoreSource(db, 50, paused)
//	program := tui.NewProgram(tui.NewMonitor(source, controls, time.Second))
//	_, err := program.Run()
package tui
