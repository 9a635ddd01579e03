package prometheus

import (
	"sync"

	"github.com/agglayer/callkit/log"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Endpoint the endpoint for exposing the metrics
	Endpoint = "/metrics"
	// ProfilingIndexEndpoint the endpoint for exposing the profiling metrics
	ProfilingIndexEndpoint = "/debug/pprof/"
	// ProfileEndpoint the endpoint for exposing the profile of the profiling metrics
	ProfileEndpoint = "/debug/pprof/profile"
	// ProfilingCmdEndpoint the endpoint for exposing the command-line of profiling metrics
	ProfilingCmdEndpoint = "/debug/pprof/cmdline"
	// ProfilingSymbolEndpoint the endpoint for exposing the symbol of profiling metrics
	ProfilingSymbolEndpoint = "/debug/pprof/symbol"
	// ProfilingTraceEndpoint the endpoint for exposing the trace of profiling metrics
	ProfilingTraceEndpoint = "/debug/pprof/trace"
)

var (
	storageMutex sync.Mutex
	registerer   prometheus.Registerer
	gauges       map[string]prometheus.Gauge
	counters     map[string]prometheus.Counter
	counterVecs  map[string]*prometheus.CounterVec
	initialized  bool
	initOnce     sync.Once
)

// Init initializes the package variables, it is idempotent.
func Init() {
	initOnce.Do(func() {
		storageMutex.Lock()
		defer storageMutex.Unlock()

		registerer = prometheus.DefaultRegisterer
		gauges = make(map[string]prometheus.Gauge)
		counters = make(map[string]prometheus.Counter)
		counterVecs = make(map[string]*prometheus.CounterVec)
		initialized = true
	})
}

// RegisterGauges registers the provided gauge metrics to the metrics collector.
func RegisterGauges(opts ...prometheus.GaugeOpts) {
	if !initialized {
		return
	}

	storageMutex.Lock()
	defer storageMutex.Unlock()

	for _, options := range opts {
		registerGaugeIfNotExists(options)
	}
}

// GaugeSet sets the value for gauge with the given name.
func GaugeSet(name string, value float64) {
	if !initialized {
		return
	}

	storageMutex.Lock()
	defer storageMutex.Unlock()

	if gauge, exist := gauges[name]; exist {
		gauge.Set(value)
	}
}

// GaugeInc increments the gauge with the given name.
func GaugeInc(name string) {
	if !initialized {
		return
	}

	storageMutex.Lock()
	defer storageMutex.Unlock()

	if gauge, exist := gauges[name]; exist {
		gauge.Inc()
	}
}

// GaugeDec decrements the gauge with the given name.
func GaugeDec(name string) {
	if !initialized {
		return
	}

	storageMutex.Lock()
	defer storageMutex.Unlock()

	if gauge, exist := gauges[name]; exist {
		gauge.Dec()
	}
}

// RegisterCounters registers the provided counter metrics to the metrics collector.
func RegisterCounters(opts ...prometheus.CounterOpts) {
	if !initialized {
		return
	}

	storageMutex.Lock()
	defer storageMutex.Unlock()

	for _, options := range opts {
		registerCounterIfNotExists(options)
	}
}

// CounterInc increments the counter with the given name.
func CounterInc(name string) {
	if !initialized {
		return
	}

	storageMutex.Lock()
	defer storageMutex.Unlock()

	if counter, exist := counters[name]; exist {
		counter.Inc()
	}
}

// CounterAdd adds the given value to the counter with the given name.
func CounterAdd(name string, value float64) {
	if !initialized {
		return
	}

	storageMutex.Lock()
	defer storageMutex.Unlock()

	if counter, exist := counters[name]; exist {
		counter.Add(value)
	}
}

// RegisterCounterVecs registers the provided counter vec metrics to the metrics collector.
func RegisterCounterVecs(opts ...CounterVecOpts) {
	if !initialized {
		return
	}

	storageMutex.Lock()
	defer storageMutex.Unlock()

	for _, options := range opts {
		registerCounterVecIfNotExists(options)
	}
}

// CounterVecInc increments the counter vec with the given name and label.
func CounterVecInc(name string, label string) {
	if !initialized {
		return
	}

	storageMutex.Lock()
	defer storageMutex.Unlock()

	if vec, exist := counterVecs[name]; exist {
		vec.WithLabelValues(label).Inc()
	}
}

// CounterVecOpts holds the options for a counter vec metric.
type CounterVecOpts struct {
	prometheus.CounterOpts
	Labels []string
}

// registerGaugeIfNotExists registers single gauge metric if not exists
func registerGaugeIfNotExists(opts prometheus.GaugeOpts) {
	if _, exist := gauges[opts.Name]; exist {
		log.Warnf("gauge metric %s is already registered", opts.Name)
		return
	}

	gauge := prometheus.NewGauge(opts)
	if err := registerer.Register(gauge); err != nil {
		log.Errorf("failed to register gauge metric %s: %v", opts.Name, err)
		return
	}
	gauges[opts.Name] = gauge
}

// registerCounterIfNotExists registers single counter metric if not exists
func registerCounterIfNotExists(opts prometheus.CounterOpts) {
	if _, exist := counters[opts.Name]; exist {
		log.Warnf("counter metric %s is already registered", opts.Name)
		return
	}

	counter := prometheus.NewCounter(opts)
	if err := registerer.Register(counter); err != nil {
		log.Errorf("failed to register counter metric %s: %v", opts.Name, err)
		return
	}
	counters[opts.Name] = counter
}

// registerCounterVecIfNotExists registers single counter vec metric if not exists
func registerCounterVecIfNotExists(opts CounterVecOpts) {
	if _, exist := counterVecs[opts.Name]; exist {
		log.Warnf("counter vec metric %s is already registered", opts.Name)
		return
	}

	vec := prometheus.NewCounterVec(opts.CounterOpts, opts.Labels)
	if err := registerer.Register(vec); err != nil {
		log.Errorf("failed to register counter vec metric %s: %v", opts.Name, err)
		return
	}
	counterVecs[opts.Name] = vec
}
