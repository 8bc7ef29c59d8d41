package dbi

import (
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsMapping counts operations of a wrapped Mapping and measures
// their duration. Metrics are in Prometheus text format:
//
//	dbi_ops_total{mapping="quotes",op="get"}
//	dbi_errors_total{mapping="quotes",op="get"}
//	dbi_op_duration_seconds{mapping="quotes",op="get"}
//
// ErrNotFound is not counted as an error.
type MetricsMapping struct {
	m    Mapping
	name string
	set  *metrics.Set
}

var _ Mapping = &MetricsMapping{}

// WithMetrics wraps m. If set is nil, a new one is created, available
// via Metrics().
func WithMetrics(m Mapping, name string, set *metrics.Set) *MetricsMapping {
	if set == nil {
		set = metrics.NewSet()
	}
	return &MetricsMapping{
		m:    m,
		name: name,
		set:  set,
	}
}

// Unwrap returns the wrapped mapping
func (mm *MetricsMapping) Unwrap() Mapping {
	return mm.m
}

func (mm *MetricsMapping) Metrics() *metrics.Set {
	return mm.set
}

// WritePrometheus writes current metric values to w
func (mm *MetricsMapping) WritePrometheus(w io.Writer) {
	mm.set.WritePrometheus(w)
}

func (mm *MetricsMapping) metricName(base string, op string) string {
	return fmt.Sprintf(`%s{mapping=%q,op=%q}`, base, mm.name, op)
}

func (mm *MetricsMapping) observe(op string, start time.Time, err error) {
	mm.set.GetOrCreateCounter(mm.metricName("dbi_ops_total", op)).Inc()
	mm.set.GetOrCreateHistogram(mm.metricName("dbi_op_duration_seconds", op)).UpdateDuration(start)
	if err != nil && !isNotFound(err) {
		mm.set.GetOrCreateCounter(mm.metricName("dbi_errors_total", op)).Inc()
	}
}

// OpCount returns how many times op was called
func (mm *MetricsMapping) OpCount(op string) uint64 {
	return mm.set.GetOrCreateCounter(mm.metricName("dbi_ops_total", op)).Get()
}

// ErrorCount returns how many times op failed
func (mm *MetricsMapping) ErrorCount(op string) uint64 {
	return mm.set.GetOrCreateCounter(mm.metricName("dbi_errors_total", op)).Get()
}

func (mm *MetricsMapping) Get(id int) (string, error) {
	start := time.Now()
	s, err := mm.m.Get(id)
	mm.observe("get", start, err)
	return s, err
}

func (mm *MetricsMapping) Set(id int, s string) error {
	start := time.Now()
	err := mm.m.Set(id, s)
	mm.observe("set", start, err)
	return err
}

func (mm *MetricsMapping) Add(s string) (int, error) {
	start := time.Now()
	id, err := mm.m.Add(s)
	mm.observe("add", start, err)
	return id, err
}

func (mm *MetricsMapping) Remove(id int) (string, error) {
	start := time.Now()
	s, err := mm.m.Remove(id)
	mm.observe("remove", start, err)
	return s, err
}

// Iterate counts one operation per pass, timed until the pass ends
func (mm *MetricsMapping) Iterate() (iter.Seq2[int, string], func() error) {
	pairs, errFn := mm.m.Iterate()
	seq := func(yield func(int, string) bool) {
		start := time.Now()
		for id, s := range pairs {
			if !yield(id, s) {
				break
			}
		}
		mm.observe("iterate", start, errFn())
	}
	return seq, errFn
}

func (mm *MetricsMapping) Flush() error {
	start := time.Now()
	err := mm.m.Flush()
	mm.observe("flush", start, err)
	return err
}

func (mm *MetricsMapping) Close() error {
	start := time.Now()
	err := mm.m.Close()
	mm.observe("close", start, err)
	return err
}

func (mm *MetricsMapping) Vacuum() error {
	start := time.Now()
	err := mm.m.Vacuum()
	mm.observe("vacuum", start, err)
	return err
}
