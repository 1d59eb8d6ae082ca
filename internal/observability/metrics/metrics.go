// Package metrics aggregates in-memory counters and gauges for the upload API
// and the transcode worker and renders them in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// JobLabel identifies a transcode job event by output mode and lifecycle
// status.
type JobLabel struct {
	Mode   string
	Status string
}

// Recorder aggregates HTTP request counters, transcode job events, per-rendition
// encode timings, and queue retry bookkeeping. It coordinates concurrent
// writers via a RWMutex while exposing an atomic gauge for active jobs.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobEvents       map[JobLabel]uint64
	encodeCount     map[string]uint64
	encodeDuration  map[string]time.Duration
	queueRetries    map[string]uint64
	activeJobs      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[JobLabel]uint64),
		encodeCount:     make(map[string]uint64),
		encodeDuration:  make(map[string]time.Duration),
		queueRetries:    make(map[string]uint64),
	}
}

// Default returns the process-wide shared Recorder.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records one HTTP request outcome.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(strings.TrimSpace(method)),
		path:   path,
		status: strconv.Itoa(status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobStarted records the beginning of a transcode job for the given output
// mode and increments the active job gauge.
func (r *Recorder) JobStarted(mode string) {
	r.recordJobEvent(mode, "start")
	r.activeJobs.Add(1)
}

// JobCompleted records a successful transcode job and decrements the active
// job gauge.
func (r *Recorder) JobCompleted(mode string) {
	r.recordJobEvent(mode, "complete")
	r.decrementActive()
}

// JobFailed records a failed transcode job and decrements the active job
// gauge without letting it go negative.
func (r *Recorder) JobFailed(mode string) {
	r.recordJobEvent(mode, "fail")
	r.decrementActive()
}

func (r *Recorder) recordJobEvent(mode, status string) {
	label := JobLabel{Mode: normalizeName(mode), Status: status}
	r.mu.Lock()
	r.jobEvents[label]++
	r.mu.Unlock()
}

func (r *Recorder) decrementActive() {
	for {
		current := r.activeJobs.Load()
		if current <= 0 {
			return
		}
		if r.activeJobs.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ObserveEncode records one completed rendition encode and its duration.
func (r *Recorder) ObserveEncode(rendition string, duration time.Duration) {
	normalized := normalizeName(rendition)
	r.mu.Lock()
	r.encodeCount[normalized]++
	r.encodeDuration[normalized] += duration
	r.mu.Unlock()
}

// ObserveQueueRetry records a retry decision outcome ("requeued" or
// "exhausted").
func (r *Recorder) ObserveQueueRetry(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.queueRetries[normalized]++
	r.mu.Unlock()
}

// ActiveJobs exposes the current number of in-flight transcode jobs.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// JobCounts returns a copy of the job event counters for tests and reporting.
func (r *Recorder) JobCounts() map[JobLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[JobLabel]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	return events
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[JobLabel]uint64)
	r.encodeCount = make(map[string]uint64)
	r.encodeDuration = make(map[string]time.Duration)
	r.queueRetries = make(map[string]uint64)
	r.activeJobs.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobLabels := r.sortedJobLabels()
	renditions := sortedKeys(r.encodeCount)
	retryOutcomes := sortedKeys(r.queueRetries)

	fmt.Fprintln(w, "# HELP vodforge_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE vodforge_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "vodforge_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n",
			label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP vodforge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE vodforge_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "vodforge_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n",
			label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP vodforge_transcode_jobs_total Transcode job events by output mode and status")
	fmt.Fprintln(w, "# TYPE vodforge_transcode_jobs_total counter")
	for _, label := range jobLabels {
		fmt.Fprintf(w, "vodforge_transcode_jobs_total{mode=\"%s\",status=\"%s\"} %d\n",
			label.Mode, label.Status, r.jobEvents[label])
	}

	fmt.Fprintln(w, "# HELP vodforge_transcode_active_jobs Current number of in-flight transcode jobs")
	fmt.Fprintln(w, "# TYPE vodforge_transcode_active_jobs gauge")
	fmt.Fprintf(w, "vodforge_transcode_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP vodforge_encode_total Completed rendition encodes by label")
	fmt.Fprintln(w, "# TYPE vodforge_encode_total counter")
	for _, rendition := range renditions {
		fmt.Fprintf(w, "vodforge_encode_total{rendition=\"%s\"} %d\n", rendition, r.encodeCount[rendition])
	}

	fmt.Fprintln(w, "# HELP vodforge_encode_duration_seconds_sum Cumulative encode duration by rendition label")
	fmt.Fprintln(w, "# TYPE vodforge_encode_duration_seconds_sum counter")
	for _, rendition := range renditions {
		fmt.Fprintf(w, "vodforge_encode_duration_seconds_sum{rendition=\"%s\"} %f\n",
			rendition, r.encodeDuration[rendition].Seconds())
	}

	fmt.Fprintln(w, "# HELP vodforge_queue_retries_total Queue retry decisions by outcome")
	fmt.Fprintln(w, "# TYPE vodforge_queue_retries_total counter")
	for _, outcome := range retryOutcomes {
		fmt.Fprintf(w, "vodforge_queue_retries_total{outcome=\"%s\"} %d\n", outcome, r.queueRetries[outcome])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedJobLabels() []JobLabel {
	labels := make([]JobLabel, 0, len(r.jobEvents))
	for label := range r.jobEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Mode != labels[j].Mode {
			return labels[i].Mode < labels[j].Mode
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
