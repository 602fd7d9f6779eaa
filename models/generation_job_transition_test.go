package models

import "testing"

func TestJobTransitions_HappyPath(t *testing.T) {
	path := []JobStatus{
		JobStatusDraft,
		JobStatusPreflightApproved,
		JobStatusPromptLocked,
		JobStatusProcessing,
		JobStatusPostcheckPassed,
		JobStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestJobTransitions_RetryLoop(t *testing.T) {
	if !CanTransition(JobStatusProcessing, JobStatusPostcheckFailed) {
		t.Fatalf("expected processing -> postcheck_failed to be legal")
	}
	if !CanTransition(JobStatusPostcheckFailed, JobStatusPromptLocked) {
		t.Fatalf("expected postcheck_failed -> prompt_locked (retry) to be legal")
	}
	if !CanTransition(JobStatusPostcheckFailed, JobStatusMaxRetryExceeded) {
		t.Fatalf("expected postcheck_failed -> ai_max_retry_exceeded to be legal")
	}
}

func TestJobTransitions_Illegal(t *testing.T) {
	cases := []struct{ from, to JobStatus }{
		{JobStatusDraft, JobStatusProcessing},
		{JobStatusDraft, JobStatusCompleted},
		{JobStatusCompleted, JobStatusPromptLocked},
		{JobStatusProcessing, JobStatusCompleted},
		{JobStatusPostcheckPassed, JobStatusPromptLocked},
		{JobStatusFailed, JobStatusDraft},
		{JobStatusMaxRetryExceeded, JobStatusPromptLocked},
	}
	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusMaxRetryExceeded}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	live := []JobStatus{JobStatusDraft, JobStatusPreflightApproved, JobStatusPromptLocked, JobStatusProcessing, JobStatusPostcheckPassed, JobStatusPostcheckFailed}
	for _, s := range live {
		if s.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestGovernanceChecks_AllStagesPassed(t *testing.T) {
	passed := GovernanceChecks{
		Pre:    &PreGenerationResult{Passed: true},
		During: &DuringGenerationResult{Passed: true},
		Post:   &PostGenerationResult{Passed: true},
	}
	if !passed.AllStagesPassed() {
		t.Fatalf("expected all stages passed")
	}

	missingPost := GovernanceChecks{
		Pre:    &PreGenerationResult{Passed: true},
		During: &DuringGenerationResult{Passed: true},
	}
	if missingPost.AllStagesPassed() {
		t.Fatalf("a missing stage must not count as passed")
	}

	failedDuring := passed
	failedDuring.During = &DuringGenerationResult{Passed: false}
	if failedDuring.AllStagesPassed() {
		t.Fatalf("a failed stage must not count as passed")
	}
}
