package actions

import "time"

// Meta is the provenance tag every action carries.
type Meta struct {
	Source    string
	ProjectID int64
	TS        time.Time
}

// Action is implemented by every dispatchable action type. Kind exists so
// handler lookup and logging can key off a concrete string instead of
// reflect.TypeOf, mirroring the teacher's type(action).__name__ dispatch.
type Action interface {
	actionKind() string
}

// Lifecycle actions.

type ShutdownRequested struct {
	Meta   Meta
	Reason string
}

func (ShutdownRequested) actionKind() string { return "ShutdownRequested" }

type AppRelaunchRequested struct {
	Meta   Meta
	Reason string
}

func (AppRelaunchRequested) actionKind() string { return "AppRelaunchRequested" }

type ProjectSelected struct {
	Meta      Meta
	ProjectID int64
}

func (ProjectSelected) actionKind() string { return "ProjectSelected" }

type FolderSelected struct {
	Meta     Meta
	FolderID *int64
}

func (FolderSelected) actionKind() string { return "FolderSelected" }

// Scan pipeline.

type ScanStarted struct {
	Meta        Meta
	JobID       int64
	FolderPath  string
	Incremental bool
}

func (ScanStarted) actionKind() string { return "ScanStarted" }

type ScanProgress struct {
	Meta    Meta
	JobID   int64
	Progress float64
	Message string
}

func (ScanProgress) actionKind() string { return "ScanProgress" }

type ScanCompleted struct {
	Meta          Meta
	JobID         int64
	PhotosIndexed int64
	VideosIndexed int64
}

func (ScanCompleted) actionKind() string { return "ScanCompleted" }

// Post-scan sub-stages.

type EmbeddingsCompleted struct {
	Meta      Meta
	JobID     int64
	Generated int64
}

func (EmbeddingsCompleted) actionKind() string { return "EmbeddingsCompleted" }

type StacksCompleted struct {
	Meta          Meta
	JobID         int64
	StacksCreated int64
}

func (StacksCompleted) actionKind() string { return "StacksCompleted" }

type DuplicatesCompleted struct {
	Meta          Meta
	JobID         int64
	ExactGroups   int64
	SimilarStacks int64
}

func (DuplicatesCompleted) actionKind() string { return "DuplicatesCompleted" }

type FacesCompleted struct {
	Meta      Meta
	JobID     int64
	Detected  int64
	Clustered int64
}

func (FacesCompleted) actionKind() string { return "FacesCompleted" }

type GroupsChanged struct {
	Meta    Meta
	GroupID *int64
	Reason  string // created | updated | deleted | reindexed
}

func (GroupsChanged) actionKind() string { return "GroupsChanged" }

type GroupIndexCompleted struct {
	Meta       Meta
	GroupID    int64
	MatchCount int64
	Scope      string
}

func (GroupIndexCompleted) actionKind() string { return "GroupIndexCompleted" }

type TagsChanged struct {
	Meta     Meta
	PhotoIDs []int64
}

func (TagsChanged) actionKind() string { return "TagsChanged" }

type SettingsChanged struct {
	Meta Meta
	Key  string
}

func (SettingsChanged) actionKind() string { return "SettingsChanged" }

// Job lifecycle.

type JobRegistered struct {
	Meta Meta
	Job  JobSnapshot
}

func (JobRegistered) actionKind() string { return "JobRegistered" }

type JobProgress struct {
	Meta     Meta
	JobID    int64
	Progress float64
	Message  string
}

func (JobProgress) actionKind() string { return "JobProgress" }

type JobFinished struct {
	Meta    Meta
	JobID   int64
	Status  string // done | canceled | failed
	Message string
}

func (JobFinished) actionKind() string { return "JobFinished" }

// ErrorRaised never triggers a further dispatch from its own handler —
// the handler only records LastError, keeping the chain non-recursive.
type ErrorRaised struct {
	Meta    Meta
	Message string
	Where   string
}

func (ErrorRaised) actionKind() string { return "ErrorRaised" }
