package plan

import "time"

// ApplyOptions tune a single apply operation. The zero value turns checksum
// validation and rollback off; DefaultApplyOptions gives the safe default.
type ApplyOptions struct {
	Preset            string      `json:"preset,omitempty"`
	DryRun            bool        `json:"dry_run,omitempty"`
	ValidateChecksums bool        `json:"validate_checksums"`
	RollbackOnError   bool        `json:"rollback_on_error"`
	Validation        *Validation `json:"validation,omitempty"`
}

// DefaultApplyOptions returns the safe defaults: checksums validated,
// rollback on error, no validation command.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{ValidateChecksums: true, RollbackOnError: true}
}

// Validation describes the optional post-apply command.
type Validation struct {
	Command      string        `json:"command"`
	Args         []string      `json:"args,omitempty"`
	Dir          string        `json:"dir,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	FailOnStderr bool          `json:"fail_on_stderr,omitempty"`
}

// ValidationResult reports the validation command outcome.
type ValidationResult struct {
	Passed     bool   `json:"passed"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
}

// ApplyResult is returned by a successful apply.
type ApplyResult struct {
	Applied    bool              `json:"applied"`
	DryRun     bool              `json:"dry_run,omitempty"`
	Files      []string          `json:"files"`
	Created    []string          `json:"created,omitempty"`
	Deleted    []string          `json:"deleted,omitempty"`
	Checksums  map[string]string `json:"checksums,omitempty"` // post-apply
	Validation *ValidationResult `json:"validation,omitempty"`
}
