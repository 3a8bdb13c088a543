package pipeline

import (
	"log"
	"os"

	"videoflow/artifact"
	"videoflow/task"
	"videoflow/titles"
	"videoflow/transcribe"
)

// Clip is one extracted short plus everything later steps attach to it.
type Clip struct {
	Path     string
	Start    float64
	End      float64
	Meta     titles.Metadata
	RemoteID string
}

// Exchange carries the current artifact and accumulated products between
// steps of one task. It is owned by a single executor goroutine.
type Exchange struct {
	TaskID string
	Store  *artifact.Store

	// Current is the primary artifact the next step consumes. It starts
	// as the submitted input and is replaced as steps produce new cuts.
	Current string

	Segments []transcribe.Segment
	Clips    []Clip
	Outputs  []task.Output

	// Meta is the publish metadata for the primary video, used when no
	// clips were cut.
	Meta titles.Metadata

	intermediates []string
}

func NewExchange(taskID string, store *artifact.Store, input string) *Exchange {
	return &Exchange{
		TaskID:  taskID,
		Store:   store,
		Current: input,
	}
}

// SetCurrent replaces the primary artifact. The superseded file becomes an
// intermediate eligible for post-run cleanup, if this task owns it.
func (x *Exchange) SetCurrent(path string) {
	if x.Current != "" && x.Store.Owns(x.Current) {
		x.intermediates = append(x.intermediates, x.Current)
	}
	x.Current = path
}

// Discard marks a scratch file for post-run cleanup.
func (x *Exchange) Discard(path string) {
	x.intermediates = append(x.intermediates, path)
}

// AddOutput records a final artifact for the task result.
func (x *Exchange) AddOutput(o task.Output) {
	x.Outputs = append(x.Outputs, o)
}

// SetRemoteID attaches a remote video ID to the output with the given path.
func (x *Exchange) SetRemoteID(path, remoteID string) {
	for i := range x.Outputs {
		if x.Outputs[i].Path == path {
			x.Outputs[i].RemoteID = remoteID
			return
		}
	}
}

// CleanupIntermediates removes superseded files. It is best-effort and
// runs after the terminal state is recorded, so failures are logged and
// never propagated.
func (x *Exchange) CleanupIntermediates() {
	final := make(map[string]bool, len(x.Outputs)+1)
	final[x.Current] = true
	for _, o := range x.Outputs {
		final[o.Path] = true
	}
	for _, path := range x.intermediates {
		if final[path] {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("Task %s: could not remove intermediate %s: %v", x.TaskID, path, err)
		}
	}
	x.intermediates = nil
}
