// Package metrics records daemon observability data.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so nothing needs a nil check:
//
//	orch := daemon.New(cfg, daemon.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// PrometheusRecorder registers its collectors on the registry it is given.
// HTTPHandler exposes that registry for scraping when metricsAddr is set.
package metrics
