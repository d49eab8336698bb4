// Package monitor is the scanning engine: it merges fetcher output,
// classifies campaigns, dedups them against what was already detected,
// resolves interested recipients and dispatches paced notifications.
//
// Service is the facade the command layer talks to. It owns the Scheduler
// (a single-flight periodic driver) and the Scanner (one scan cycle).
// Scan state lives in an explicit State object read through snapshots.
package monitor
