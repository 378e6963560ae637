// Package crawler contains the comment collection pipeline and the
// batch runner driving it.
//
// The pipeline walks one target's comment area page by page: fetch a
// root page, emit each root followed by all of its nested replies as a
// contiguous block, mark the page done in the progress record, then
// advance. Pinned comments from the first page are emitted before
// everything else. A per-run seen set suppresses duplicates caused by
// the endpoint's overlapping pages and by re-fetching a partially
// collected page after resume.
//
// Failure handling follows the error taxonomy in pkg/errors: transient
// failures leave the target partial and resumable, fatal ones abort
// the whole batch because they would recur on every remaining target.
package crawler
