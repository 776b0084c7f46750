// Package core defines the shared language of dfmigrate.
//
// This package contains:
//   - Warehouse identities (TableRef, Pair, NodeID)
//   - Normalized metadata (TableDescriptor, QueryRecord)
//   - Deduplication results (SimilarityCluster, DedupEntry)
//   - The action graph handed to emitters (ActionNode, ActionGraph)
//   - Pair outcomes, typed errors and the engine configuration
//   - Raw boundary records in the warehouse REST shape (RawTable, RawJob)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
