package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Cycle stages.
const (
	StageMirror = "mirror"
	StageBuild  = "build"
	StageLaunch = "launch"
	StageSync   = "sync"
)

// Recorder defines observability hooks for the update cycle and fuzzing
// sessions. All methods must be cheap; they run on the cycle goroutine.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveCycleDuration(d time.Duration)
	IncMirrorChange()
	IncSessionStarted()
	SetActiveWorkers(n int)
	AddCorpusCopied(n int)
	SetCorpusSize(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) ObserveCycleDuration(time.Duration)         {}
func (NoopRecorder) IncMirrorChange()                           {}
func (NoopRecorder) IncSessionStarted()                         {}
func (NoopRecorder) SetActiveWorkers(int)                       {}
func (NoopRecorder) AddCorpusCopied(int)                        {}
func (NoopRecorder) SetCorpusSize(int)                          {}
