package sandbox

// AttemptWithRetryIf runs launch once. If it fails and shouldRetry reports
// true for that error, the failure is surfaced to approve before anything
// else happens; approve returning false means the caller declined to
// escalate and the original failure is returned unchanged. Only when
// approve grants the escalation does escalate run (to re-plan the next
// launch under a looser sandbox kind) and launch get called a second and
// final time — at most one retry per attempt, regardless of outcome.
func AttemptWithRetryIf[T any](
	launch func() (T, error),
	shouldRetry func(error) bool,
	approve func(error) bool,
	escalate func(),
) (T, error) {
	result, err := launch()
	if err == nil || !shouldRetry(err) {
		return result, err
	}
	if !approve(err) {
		return result, err
	}
	escalate()
	return launch()
}
