// Package semantic ranks chunks of source files by meaning rather than by
// exact text. Each chunk is scored twice, by BM25 over code-aware tokens and
// by vector similarity of its embedding, and the two rankings are merged
// with Reciprocal Rank Fusion.
//
// Indexes are built per root on first use and cached; a root is rebuilt
// when the size or modification time of any file under it changes.
package semantic
