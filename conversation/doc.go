// Package conversation implements the turn-based conversation core: a
// strictly sequential turn queue, next-speaker resolution, history
// summarization, and the orchestrator that drives agent turns through the
// model adapter and the document mutation path.
//
// Concurrency model: orchestration logic is effectively single-threaded.
// TurnQueue's drain loop guarantees at most one turn handler runs at a
// time; the only suspending operations are the model call and the fuzzy
// diff search. Correctness across those suspensions relies on
// re-validation (run still active, session still loaded, agent still on
// the roster) rather than locks around the await points.
package conversation
