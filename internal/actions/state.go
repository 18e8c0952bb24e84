// Package actions is the engine's UI-invalidation bus: a single-writer
// state machine that turns worker-reported events into monotonic
// per-domain version bumps a caller can poll instead of re-querying
// storage on every tick. Grounded on the teacher's original state/action
// dispatch design: domain version counters are independent of ui_epoch,
// handlers run under a lock and never perform IO, and subscribers are
// notified outside the lock so a slow or re-entrant subscriber cannot
// deadlock a dispatch.
package actions

import "time"

// JobSnapshot is a lightweight progress summary, not the job's full
// persisted row (that lives in storage's ml_job table).
type JobSnapshot struct {
	JobID      int64
	Kind       string
	Title      string
	Status     string // queued | running | done | canceled | failed
	Progress   float64
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// State is the authoritative UI-coordination state. It is not the data
// store; SQLite is. It only tracks which project/folder is selected,
// per-domain freshness counters, widget-lifecycle epoch, and a light job
// registry.
type State struct {
	ProjectID         int64
	SelectedFolderID  *int64
	SelectedBranchKey string

	MediaV       int64
	TagsV        int64
	PeopleV      int64
	FacesV       int64
	DuplicatesV  int64
	EmbeddingsV  int64
	StacksV      int64
	VideosV      int64
	GroupsV      int64
	SettingsV    int64
	JobsV        int64

	UIEpoch int64
	Closing bool

	Jobs map[int64]*JobSnapshot

	LastError string
}

// NewState returns a zero-valued State with its map initialized.
func NewState() *State {
	return &State{SelectedBranchKey: "all", Jobs: make(map[int64]*JobSnapshot)}
}

// versions is an immutable snapshot of every counter, used to log deltas
// around a dispatch without holding the lock while formatting them.
type versions struct {
	MediaV, TagsV, PeopleV, FacesV, DuplicatesV, EmbeddingsV,
	StacksV, VideosV, GroupsV, SettingsV, JobsV, UIEpoch int64
}

func snapshotVersions(s *State) versions {
	return versions{
		MediaV: s.MediaV, TagsV: s.TagsV, PeopleV: s.PeopleV, FacesV: s.FacesV,
		DuplicatesV: s.DuplicatesV, EmbeddingsV: s.EmbeddingsV, StacksV: s.StacksV,
		VideosV: s.VideosV, GroupsV: s.GroupsV, SettingsV: s.SettingsV, JobsV: s.JobsV,
		UIEpoch: s.UIEpoch,
	}
}
