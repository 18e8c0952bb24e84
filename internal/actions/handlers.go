package actions

import "time"

// registerDefaultHandlers wires the engine's built-in state transitions.
// Each bump set below is a direct translation of the version-counter table
// action types mutate in-place; no IO, no further dispatch.
func registerDefaultHandlers(s *Store) {
	s.On("ShutdownRequested", func(st *State, _ Action) {
		st.Closing = true
		st.UIEpoch++
	})

	s.On("AppRelaunchRequested", func(st *State, _ Action) {
		st.UIEpoch++
		st.Closing = false
		st.Jobs = make(map[int64]*JobSnapshot)
		st.LastError = ""
	})

	s.On("ProjectSelected", func(st *State, a Action) {
		act := a.(ProjectSelected)
		st.ProjectID = act.ProjectID
		st.SelectedFolderID = nil
		st.SelectedBranchKey = "all"
		// Switching projects never bumps ui_epoch: in-flight workers for
		// the prior project must not be invalidated, only panels need to
		// know to re-query for the new one.
		st.MediaV++
		st.PeopleV++
		st.FacesV++
		st.DuplicatesV++
		st.EmbeddingsV++
		st.StacksV++
		st.VideosV++
		st.GroupsV++
	})

	s.On("FolderSelected", func(st *State, a Action) {
		st.SelectedFolderID = a.(FolderSelected).FolderID
	})

	s.On("ScanStarted", func(st *State, a Action) {
		act := a.(ScanStarted)
		st.Jobs[act.JobID] = &JobSnapshot{
			JobID: act.JobID, Kind: "scan", Title: "Scanning images",
			Status: "running", StartedAt: time.Now(),
		}
		st.JobsV++
	})

	s.On("ScanProgress", func(st *State, a Action) {
		act := a.(ScanProgress)
		if j, ok := st.Jobs[act.JobID]; ok {
			j.Progress = act.Progress
			j.Message = act.Message
			j.Status = "running"
		}
	})

	s.On("ScanCompleted", func(st *State, a Action) {
		act := a.(ScanCompleted)
		if j, ok := st.Jobs[act.JobID]; ok {
			j.Status = "done"
			j.Progress = 1.0
			j.FinishedAt = time.Now()
		}
		st.MediaV++
		if act.VideosIndexed > 0 {
			st.VideosV++
		}
		st.JobsV++
	})

	s.On("EmbeddingsCompleted", func(st *State, a Action) {
		act := a.(EmbeddingsCompleted)
		finishJob(st, act.JobID)
		st.EmbeddingsV++
		st.JobsV++
	})

	s.On("StacksCompleted", func(st *State, a Action) {
		act := a.(StacksCompleted)
		finishJob(st, act.JobID)
		st.StacksV++
		st.JobsV++
	})

	s.On("DuplicatesCompleted", func(st *State, a Action) {
		act := a.(DuplicatesCompleted)
		finishJob(st, act.JobID)
		st.DuplicatesV++
		st.JobsV++
	})

	s.On("FacesCompleted", func(st *State, a Action) {
		act := a.(FacesCompleted)
		finishJob(st, act.JobID)
		st.PeopleV++
		st.FacesV++
		st.JobsV++
	})

	s.On("GroupsChanged", func(st *State, _ Action) {
		st.GroupsV++
	})

	s.On("GroupIndexCompleted", func(st *State, _ Action) {
		st.GroupsV++
	})

	s.On("TagsChanged", func(st *State, _ Action) {
		st.TagsV++
	})

	s.On("SettingsChanged", func(st *State, _ Action) {
		st.SettingsV++
	})

	s.On("JobRegistered", func(st *State, a Action) {
		act := a.(JobRegistered)
		job := act.Job
		st.Jobs[job.JobID] = &job
		st.JobsV++
	})

	s.On("JobProgress", func(st *State, a Action) {
		act := a.(JobProgress)
		if j, ok := st.Jobs[act.JobID]; ok {
			j.Progress = act.Progress
			j.Message = act.Message
		}
	})

	s.On("JobFinished", func(st *State, a Action) {
		act := a.(JobFinished)
		if j, ok := st.Jobs[act.JobID]; ok {
			j.Status = act.Status
			j.Message = act.Message
			j.FinishedAt = time.Now()
		}
		st.JobsV++
	})

	s.On("ErrorRaised", func(st *State, a Action) {
		act := a.(ErrorRaised)
		if act.Where != "" {
			st.LastError = act.Where + ": " + act.Message
		} else {
			st.LastError = act.Message
		}
	})
}

func finishJob(st *State, jobID int64) {
	if j, ok := st.Jobs[jobID]; ok {
		j.Status = "done"
		j.Progress = 1.0
		j.FinishedAt = time.Now()
	}
}
