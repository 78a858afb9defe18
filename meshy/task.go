// Package meshy is the client for the Meshy image-to-3D service.
//
// task.go defines the reconstruction task model. A task is created on
// submission, advanced only by Poll, and terminal once it succeeds or fails.
package meshy

// Status is the lifecycle state of a reconstruction task.
// Status only advances PENDING -> PROCESSING -> {SUCCEEDED, FAILED},
// never backward.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// rank orders statuses for forward-only transitions.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	}
	return 0
}

// MeshAssets holds the downloadable outputs of a completed task.
// GLB feeds the web mesh viewer; STL feeds the print vendor. Bytes are
// cached on first download so repeated polls never re-fetch.
type MeshAssets struct {
	GLBURL string
	STLURL string
	OBJURL string

	GLB []byte
	STL []byte
}

// Task is the client-side record of one reconstruction job.
//
// MultiView is fixed at submission time and routes every later status query
// to the matching endpoint family; the two families are not interchangeable.
type Task struct {
	ID        string
	MultiView bool
	Status    Status
	Progress  int // 0-100
	Error     string
	Assets    MeshAssets
}

// clone returns a defensive copy handed to callers.
func (t *Task) clone() *Task {
	copied := *t
	return &copied
}
