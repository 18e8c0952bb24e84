// Package models holds the domain types shared across the engine:
// projects, folders, media, the content-addressable asset/instance
// layer, faces, embeddings, and jobs. Pointer-based optional fields
// follow the teacher's Should*/Get* convention for JSON payloads that
// travel through job configuration blobs.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewScratchDirName returns a unique scratch-directory name for MTP
// imports, using the teacher's uuid.New().String() id convention.
func NewScratchDirName() string {
	return "mtp-" + uuid.New().String()
}

// Project is the top-level tenant. SemanticModel is project metadata,
// not a UI preference: changing it is a migration, never a plain update.
type Project struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Folder            string    `json:"folder"`
	Mode              string    `json:"mode"`
	SemanticModel     string    `json:"semantic_model"`
	ClusterEps        float64   `json:"cluster_eps"`
	ClusterMinSamples int       `json:"cluster_min_samples"`
	CreatedAt         time.Time `json:"created_at"`
}

// Folder is a global hierarchical node; folders are shared across
// projects, project membership of media is expressed by Instance.
type Folder struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Path     string `json:"path"`
	Name     string `json:"name"`
}

// PhotoMetadata describes a single photo file.
type PhotoMetadata struct {
	ID                int64      `json:"id"`
	Path              string     `json:"path"`
	FolderID          int64      `json:"folder_id"`
	ProjectID         int64      `json:"project_id"`
	SizeKB            int64      `json:"size_kb"`
	Modified          time.Time  `json:"modified"`
	DateTaken         *time.Time `json:"date_taken,omitempty"`
	CreatedTS         time.Time  `json:"created_ts"`
	CreatedYear       int        `json:"created_year"`
	CreatedMonth      int        `json:"created_month"`
	CreatedDay        int        `json:"created_day"`
	Width             int        `json:"width"`
	Height            int        `json:"height"`
	MetadataFailCount int        `json:"metadata_fail_count"`
	LastError         string     `json:"last_error,omitempty"`
	FacesStatus       string     `json:"faces_status"` // pending | done | skipped
	EmbedStatus       string     `json:"embed_status"` // pending | done | skipped
	Missing           bool       `json:"missing"`
}

// ShouldRetryMetadata reports whether a file that previously failed
// metadata extraction is still eligible for a retry on the next
// incremental scan (suppressed after 3 consecutive failures until its
// mtime changes).
func (p *PhotoMetadata) ShouldRetryMetadata() bool {
	return p.MetadataFailCount < 3
}

// VideoMetadata mirrors PhotoMetadata for video files.
type VideoMetadata struct {
	ID           int64     `json:"id"`
	Path         string    `json:"path"`
	FolderID     int64     `json:"folder_id"`
	ProjectID    int64     `json:"project_id"`
	SizeKB       int64     `json:"size_kb"`
	Modified     time.Time `json:"modified"`
	CreatedTS    time.Time `json:"created_ts"`
	CreatedYear  int       `json:"created_year"`
	CreatedMonth int       `json:"created_month"`
	CreatedDay   int       `json:"created_day"`
	DurationSec  float64   `json:"duration_sec"`
	Codec        string    `json:"codec"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	FPS          float64   `json:"fps"`
	BitrateKbps  int64     `json:"bitrate_kbps"`
}

// MediaAsset is the content-addressable identity of a distinct piece of
// content within a project.
type MediaAsset struct {
	AssetID               int64  `json:"asset_id"`
	ProjectID             int64  `json:"project_id"`
	ContentHash           string `json:"content_hash"`
	PerceptualHash        uint64 `json:"perceptual_hash"`
	RepresentativePhotoID int64  `json:"representative_photo_id"`
}

// MediaInstance is an occurrence of an asset at a path within a project.
type MediaInstance struct {
	InstanceID int64 `json:"instance_id"`
	ProjectID  int64 `json:"project_id"`
	AssetID    int64 `json:"asset_id"`
	PhotoID    int64 `json:"photo_id"`
}

// FaceCrop is one detection, before or after cluster assignment.
type FaceCrop struct {
	ID               int64   `json:"id"`
	ProjectID        int64   `json:"project_id"`
	BranchKey        *string `json:"branch_key,omitempty"`
	ImagePath        string  `json:"image_path"` // original media path; see faces.AuditCorruptPaths for legacy rows where this drifted to a crop-store path
	CropPath         string  `json:"crop_path,omitempty"`
	Embedding        []byte  `json:"-"`
	Confidence       float64 `json:"confidence"`
	BBoxTop          float64 `json:"bbox_top"`
	BBoxRight        float64 `json:"bbox_right"`
	BBoxBottom       float64 `json:"bbox_bottom"`
	BBoxLeft         float64 `json:"bbox_left"`
	IsRepresentative bool    `json:"is_representative"`
	LowConfidence    bool    `json:"low_confidence"`
	DetectorVersion  string  `json:"detector_version"`
}

// Area returns the bounding box's area in normalized units, used by
// representative-crop selection (confidence x area, tie-break lowest id).
func (f *FaceCrop) Area() float64 {
	w := f.BBoxRight - f.BBoxLeft
	h := f.BBoxBottom - f.BBoxTop
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// FaceBranch is a face cluster ("person").
type FaceBranch struct {
	ProjectID    int64   `json:"project_id"`
	BranchKey    string  `json:"branch_key"`
	Label        *string `json:"label,omitempty"`
	Count        int     `json:"count"`
	RepPath      string  `json:"rep_path,omitempty"`
	RepThumbPNG  []byte  `json:"-"`
	QualityScore float64 `json:"quality_score"`
}

// DisplayName returns Label if set, else BranchKey — the teacher's
// COALESCE(label, branch_key) convention from face_branch_reps queries.
func (b *FaceBranch) DisplayName() string {
	if b.Label != nil && *b.Label != "" {
		return *b.Label
	}
	return b.BranchKey
}

// IsManual reports whether this branch was user-created (manual_*
// prefix) rather than clustering-assigned (face_NNN).
func (b *FaceBranch) IsManual() bool {
	return len(b.BranchKey) >= 7 && b.BranchKey[:7] == "manual_"
}

// PersonGroup is a user-defined set of branch_keys with a materialized
// AND-match cache (photos containing every member).
type PersonGroup struct {
	ID         int64    `json:"id"`
	ProjectID  int64    `json:"project_id"`
	Name       string   `json:"name"`
	BranchKeys []string `json:"branch_keys"`
	Stale      bool     `json:"stale"`
}

// SemanticEmbedding is a (photo_id, model) embedding row.
type SemanticEmbedding struct {
	PhotoID     int64  `json:"photo_id"`
	Model       string `json:"model"`
	Embedding   []byte `json:"-"`
	Dim         int    `json:"dim"` // negative => float16, positive => float32
	SourceHash  string `json:"source_hash"`
	SourceMtime int64  `json:"source_mtime"`
}

// IsFloat16 reports whether this row's blob is packed as float16.
func (e *SemanticEmbedding) IsFloat16() bool { return e.Dim < 0 }

// LogicalDim returns the embedding's logical (unsigned) dimension.
func (e *SemanticEmbedding) LogicalDim() int {
	if e.Dim < 0 {
		return -e.Dim
	}
	return e.Dim
}

// JobState is the job state-machine's set of legal values.
type JobState string

const (
	JobQueued   JobState = "queued"
	JobRunning  JobState = "running"
	JobPaused   JobState = "paused"
	JobDone     JobState = "done"
	JobCanceled JobState = "canceled"
	JobFailed   JobState = "failed"
)

// JobKind enumerates the exact set of job kinds the core recognises.
type JobKind string

const (
	KindScan          JobKind = "scan"
	KindFacesDetect    JobKind = "faces_detect"
	KindFacesEmbed     JobKind = "faces_embed"
	KindFacesCluster   JobKind = "faces_cluster"
	KindSemanticEmbed  JobKind = "semantic_embed"
	KindDuplicateHash  JobKind = "duplicate_hash"
	KindDuplicateGroup JobKind = "duplicate_group"
	KindGroupIndex     JobKind = "group_index"
	KindMTPCopy        JobKind = "mtp_copy"
)

// MLJob is the persistent job row.
type MLJob struct {
	ID             int64      `json:"id"`
	Kind           JobKind    `json:"kind"`
	ProjectID      int64      `json:"project_id"`
	State          JobState   `json:"state"`
	Processed      int64      `json:"processed"`
	Total          int64      `json:"total"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	ConfigJSON     string     `json:"config_json,omitempty"`
	CheckpointID   int64      `json:"checkpoint_id"` // last fully-processed id, for restart-safe resume
	Paused         bool       `json:"paused"`
	CancelRequested bool      `json:"cancel_requested"`
}

// IsTerminal reports whether the job state machine has reached a
// terminal state (done, canceled, failed).
func (j *MLJob) IsTerminal() bool {
	switch j.State {
	case JobDone, JobCanceled, JobFailed:
		return true
	default:
		return false
	}
}

// Config unmarshals ConfigJSON into dst.
func (j *MLJob) Config(dst interface{}) error {
	if j.ConfigJSON == "" {
		return nil
	}
	return json.Unmarshal([]byte(j.ConfigJSON), dst)
}

// ScanConfig is the job configuration blob for KindScan.
type ScanConfig struct {
	Root        string `json:"root"`
	Incremental bool   `json:"incremental"`
	MTP         bool   `json:"mtp"`
}

// FacesDetectConfig is the job configuration blob for KindFacesDetect.
// Scope is one of "all", "folder:<id>", "dates:<a>,<b>", or a bare
// float string for a quantity percentage.
type FacesDetectConfig struct {
	Scope string `json:"scope"`
}

// SemanticEmbedConfig is the job configuration blob for KindSemanticEmbed.
type SemanticEmbedConfig struct {
	Model                string  `json:"model"`
	ForceRecompute       bool    `json:"force_recompute"`
	SaveProgressInterval int     `json:"save_progress_interval"`
	PhotoIDs             []int64 `json:"photo_ids,omitempty"`
}

// Tag is a project-scoped label. Tags must never leak across projects —
// a historical source of data bleed the storage layer's queries must
// guard against by always filtering on project_id.
type Tag struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ProjectID int64  `json:"project_id"`
}
