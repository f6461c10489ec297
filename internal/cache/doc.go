// Package cache keeps unified performance models in two tiers: a weighted
// LRU in memory (L1) and one JSON file per (model, condition) pair on disk
// (L2). The disk file is the system of record; the memory tier only holds
// models that were requested often enough to pass admission control.
//
// A stored model is valid only while its data hash and environment key match
// the ones computed for the current lookup, so changed samples or changed
// build parameters lead to a rebuild without explicit purges.
package cache
