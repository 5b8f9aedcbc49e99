// Package indexer runs full indexing passes over a repository and tracks
// their lifecycle.
//
// An Orchestrator owns one repository's StateMachine. A run moves the
// machine from Standby to Indexing, prepares the vector store, drives the
// scanner and then settles in Indexed or Error:
//
//	standby -> indexing -> indexed -> standby
//	                    \-> error  -> standby
//
// A run fails when blocks were found but none were indexed, or when batch
// errors lost more than LossThreshold of the found blocks. A failed run
// clears whatever it wrote; a cleanup failure is reported in
// RunError.Cleanup next to the primary cause.
//
// After a successful run an optional Watcher re-indexes files as they
// change.
package indexer
