package cron

// Schedule describes when a job fires.
type Schedule struct {
	Kind    string `json:"kind"` // at, every, cron
	AtMs    int64  `json:"atMs,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	Expr    string `json:"expr,omitempty"`
}

// Wake is a job's effect: a synthetic message injected into a group's
// conversation, nudging that group's actor the way a user message would.
type Wake struct {
	Channel string `json:"channel"`
	GroupID string `json:"groupId"`
	Message string `json:"message"`
}

// JobState is runtime bookkeeping, persisted with the job.
type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"` // ok, error
	LastError   string `json:"lastError,omitempty"`
}

// Job is one scheduled wake.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Wake           Wake     `json:"wake"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun"`
}

type jobStore struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}
