package jobs

// Shared store key layout for one report job. Keeping construction in one
// place stops key formats drifting between the worker and the API server.

// LockKey is the job's mutual-exclusion lock.
func LockKey(jobID string) string { return "reports:" + jobID + ":lock" }

// ProgressKey holds the job's checkpointed Progress record.
func ProgressKey(jobID string) string { return "reports:" + jobID + ":progress" }

// ResultKey holds the final Report.
func ResultKey(jobID string) string { return "reports:" + jobID + ":result" }

// StageKey holds a stage's intermediate output; deleted at job completion.
func StageKey(jobID, stage string) string { return "reports:" + jobID + ":stage:" + stage }

// AttemptsKey counts processing attempts across workers.
func AttemptsKey(jobID string) string { return "reports:" + jobID + ":attempts" }
