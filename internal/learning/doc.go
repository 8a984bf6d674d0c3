// Package learning implements the three-tier learning store.
//
// Records enter the Hot tier through the Inbox, are checked by the
// Validator, ranked by the Scorer, and moved between tiers by the Engine:
//
//	Hot  -> Warm   confirmed, or validated with enough detections
//	Warm -> Cold   inactive for demotion_days
//	Hot  -> Cold   evicted when the Hot tier is over capacity
//	Cold -> Warm   explicit recall
//
// Hot records live one per file under <state>/inbox, the Warm tier is a
// single warm.json aggregate, and Cold records are grouped by calendar
// quarter under <state>/cold, later compressed into one archive per quarter.
//
// The Manager ties the tiers to the artifact writer, backup manager, change
// log and Global index so that every apply or rollback is preceded by a
// backup of the files it touches.
package learning
