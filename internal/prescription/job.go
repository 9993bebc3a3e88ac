package prescription

import (
	"context"
	"sync"
)

// Stage is a step of the processing pipeline
type Stage string

const (
	StageCreated        Stage = "created"
	StagePreprocessing  Stage = "preprocessing"
	StageExtractingText Stage = "extracting_text"
	StageStructuring    Stage = "structuring"
	StageEnriching      Stage = "enriching"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// JobState is the coarse state of a job
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Job tracks one image through the pipeline
type Job struct {
	ID       string
	FileName string

	mu          sync.Mutex
	stage       Stage
	progress    int
	result      *Result
	err         error
	subscribers []chan int

	done   chan struct{}
	cancel context.CancelFunc
}

func newJob(id, fileName string, cancel context.CancelFunc) *Job {
	return &Job{
		ID:       id,
		FileName: fileName,
		stage:    StageCreated,
		done:     make(chan struct{}),
		cancel:   cancel,
	}
}

// JobStatus is a point in time view of a job
type JobStatus struct {
	ID       string   `json:"id"`
	FileName string   `json:"file_name"`
	State    JobState `json:"state"`
	Stage    Stage    `json:"stage"`
	Progress int      `json:"progress"`
	Result   *Result  `json:"result,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Status returns the current state of the job
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := JobStatus{
		ID:       j.ID,
		FileName: j.FileName,
		State:    JobRunning,
		Stage:    j.stage,
		Progress: j.progress,
	}
	switch j.stage {
	case StageCompleted:
		status.State = JobSucceeded
		status.Result = j.result
	case StageFailed:
		status.State = JobFailed
		if j.err != nil {
			status.Error = j.err.Error()
		}
	}
	return status
}

// Subscribe returns a channel of progress percentages. It first receives the
// current progress, then every increase, and is closed when the job ends.
func (j *Job) Subscribe() <-chan int {
	j.mu.Lock()
	defer j.mu.Unlock()

	// 0..100 is at most 101 distinct values, so sends never block
	ch := make(chan int, 101)
	if j.progress > 0 {
		ch <- j.progress
	}
	if j.terminal() {
		close(ch)
		return ch
	}
	j.subscribers = append(j.subscribers, ch)
	return ch
}

// Done is closed when the job ends
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job ends or ctx is done
func (j *Job) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Err returns the failure of a finished job
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Cancel abandons the job. Nothing is committed for a cancelled job.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// terminal must be called with mu held
func (j *Job) terminal() bool {
	return j.stage == StageCompleted || j.stage == StageFailed
}

func (j *Job) setStage(stage Stage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.terminal() {
		j.stage = stage
	}
}

func (j *Job) currentStage() Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

// report publishes progress. Values not above the last one are dropped.
func (j *Job) report(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if progress > 100 {
		progress = 100
	}
	if j.terminal() || progress <= j.progress {
		return
	}
	j.progress = progress
	for _, ch := range j.subscribers {
		ch <- progress
	}
}

func (j *Job) finish(result *Result, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.terminal() {
		return
	}
	if err != nil {
		j.stage = StageFailed
		j.err = err
	} else {
		j.stage = StageCompleted
		j.result = result
	}
	for _, ch := range j.subscribers {
		close(ch)
	}
	j.subscribers = nil
	close(j.done)
	if j.cancel != nil {
		j.cancel()
	}
}
