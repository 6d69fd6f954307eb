// Package am is the index access method contract of the scan engine.
//
// An AccessMethod owns the collaborators every operation needs: the engine,
// the registry of live scans, the WAL, the writer used by inserts and
// builds, and the cost estimator. The host database calls it to:
//
//   - open, drive and close index scans, addressed by registry handles
//   - insert rows, build indexes and vacuum them
//   - answer the planner (CanReturn, CostEstimate)
//   - coordinate parallel scans
//   - score rows matched by the live scans
//
// AbortTransaction must be called from the host's transaction abort hook.
// It finalizes every scan still registered.
package am
