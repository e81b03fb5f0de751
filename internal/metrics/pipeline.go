package metrics

import "time"

// RunStarted should be called when a generation pipeline run begins.
func RunStarted() {
	PipelineInFlight.Inc()
}

// RunCompleted records a successful pipeline run.
func RunCompleted(feature string) {
	PipelineInFlight.Dec()
	PipelineRunsTotal.WithLabelValues(feature, "completed").Inc()
}

// RunFailed records a failed pipeline run with the failure kind as outcome.
func RunFailed(feature, kind string) {
	PipelineInFlight.Dec()
	PipelineRunsTotal.WithLabelValues(feature, kind).Inc()
}

// StageObserved records time spent in a pipeline stage.
func StageObserved(stage string, d time.Duration) {
	PipelineStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ModelAttempted records the outcome of one model attempt.
func ModelAttempted(model, outcome string) {
	ModelAttempts.WithLabelValues(model, outcome).Inc()
}

// PricingFetched records one pricing source result.
func PricingFetched(source, status string, d time.Duration) {
	PricingSourceResults.WithLabelValues(source, status).Inc()
	PricingSourceDuration.WithLabelValues(source).Observe(d.Seconds())
}
