package jobs

import "fmt"

// JobExecutionError wraps a module's failure with the job's identity so
// callers see which computation failed, not a generic message.
type JobExecutionError struct {
	JobHash  string
	Manifest string // module type, for log/error context
	Reason   error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job %s (module %s) failed: %v", shortHash(e.JobHash), e.Manifest, e.Reason)
}

func (e *JobExecutionError) Unwrap() error { return e.Reason }

// UnknownJobError reports a wait on a job hash that was never submitted.
type UnknownJobError struct {
	JobHash string
}

func (e *UnknownJobError) Error() string {
	return fmt.Sprintf("unknown job %s", shortHash(e.JobHash))
}

// shortHash truncates a content hash for human-facing messages.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
