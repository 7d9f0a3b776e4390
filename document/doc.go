// Package document applies structured document actions to the shared text.
//
// Matcher resolves one old/new text replacement against a live document,
// exact match first and approximate similarity search as a fallback,
// because model-authored oldText values frequently diverge from the
// document by whitespace and line-break differences. Applier routes a full
// DocumentAction (append, diff set, edit request) through the permission
// gate and the matcher, producing one DiffApplicationResult per edit for
// observability.
//
// Similarity scoring over a long document is CPU-heavy, so the matcher runs
// it on a bounded worker pool with an overall timeout; a timed-out batch is
// a total failure and leaves the document unmodified.
package document
