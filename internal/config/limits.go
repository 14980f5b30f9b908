package config

import "time"

// Engine limits. Task timeouts travel as milliseconds on the wire; the
// duration forms here are the same values for internal use.
const (
	DefaultTimeoutMS = 600000  // 10 min
	MinTimeoutMS     = 1000    // 1 s
	MaxTimeoutMS     = 3600000 // 1 h

	MaxRetries = 2
	MaxHistory = 1000

	DefaultPollInterval = 10 * time.Second
	ShutdownWait        = 5 * time.Second

	LockTimeout       = 5 * time.Second
	LockRetryInterval = 100 * time.Millisecond

	DefaultPageLimit = 20
	MaxPageLimit     = 100

	MaxPromptLen = 10000
	MaxNameLen   = 100

	DefaultQuestionTimeout = 5 * time.Minute
	SessionMaxAge          = 4 * time.Hour
	SessionSweepInterval   = 10 * time.Minute
	MaxPendingQuestions    = 5
	MaxAnswerLen           = 1000
	MaxOptionLabelLen      = 100
	MaxFollowUpDepth       = 3
)

// Retry backoff parameters (see executor).
const (
	RetryBaseDelay = 5 * time.Second
	RetryMaxDelay  = 60 * time.Second
	RetryJitter    = 0.1
)
