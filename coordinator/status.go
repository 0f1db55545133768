package coordinator

import "sort"

// JobState summarizes the coordinator's health.
type JobState string

const (
	StateRunning  JobState = "running"  // all table pipelines healthy
	StateDegraded JobState = "degraded" // some pipelines stopped on fatal errors
	StateStopped  JobState = "stopped"  // job stopped or not yet started
)

// TableStatus reports one table pipeline.
type TableStatus struct {
	Table    string `json:"table"`
	Artifact string `json:"artifact"`
	Running  bool   `json:"running"`
	Error    string `json:"error,omitempty"`
}

// Status is a point-in-time snapshot of the job.
type Status struct {
	State  JobState      `json:"state"`
	Tables []TableStatus `json:"tables"`
}

// Status reports the job state and every table pipeline's condition.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{Tables: make([]TableStatus, 0, len(c.tables))}

	anyRunning := false
	anyFailed := false
	for table, ts := range c.tables {
		entry := TableStatus{
			Table:    table,
			Artifact: ts.artifact,
			Running:  ts.running,
		}
		if ts.err != nil {
			entry.Error = ts.err.Error()
			anyFailed = true
		}
		if ts.running {
			anyRunning = true
		}
		st.Tables = append(st.Tables, entry)
	}

	switch {
	case c.stopped || !c.started || !anyRunning:
		st.State = StateStopped
	case anyFailed:
		st.State = StateDegraded
	default:
		st.State = StateRunning
	}

	sort.Slice(st.Tables, func(i, j int) bool { return st.Tables[i].Table < st.Tables[j].Table })
	return st
}
