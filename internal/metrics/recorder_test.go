package metrics

import (
	"testing"
	"time"
)

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration(StageMirror, time.Millisecond)
	r.IncStageResult(StageMirror, ResultSkipped)
	r.ObserveCycleDuration(time.Second)
	r.IncMirrorChange()
	r.IncSessionStarted()
	r.SetActiveWorkers(0)
	r.AddCorpusCopied(1)
	r.SetCorpusSize(1)
}

var _ Recorder = (*PrometheusRecorder)(nil)
