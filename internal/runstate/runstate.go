// Package runstate tracks the lifecycle label and stop flag of in-flight
// agent runs, keyed by task id.
package runstate

import "sync"

// State is the lifecycle label of an agent run, distinct from task status.
type State string

const (
	Pending            State = "pending"
	AgentRunning       State = "agent_running"
	BetweenNodes       State = "between_nodes"
	StreamingModel     State = "streaming_model"
	ProcessingTool     State = "processing_tool"
	Completed          State = "completed"
	Stopped            State = "stopped"
	Error              State = "error"
	Timeout            State = "timeout"
	TokenLimitExceeded State = "token_limit_exceeded"
)

type entry struct {
	stopInitiated bool
	state         State
}

type Registry struct {
	mu   sync.Mutex
	runs map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*entry)}
}

func (r *Registry) Register(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[taskID] = &entry{state: Pending}
}

func (r *Registry) IsStopInitiated(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[taskID]
	return ok && run.stopInitiated
}

func (r *Registry) UpdateRunState(taskID string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[taskID]; ok {
		run.state = state
	}
}

func (r *Registry) RunState(taskID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[taskID]
	if !ok {
		return "", false
	}
	return run.state, true
}

// Cancel sets the stop flag; the run notices at its next checkpoint. Returns
// false for unknown task ids.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[taskID]
	if !ok {
		return false
	}
	run.stopInitiated = true
	return true
}

func (r *Registry) Delete(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, taskID)
}
