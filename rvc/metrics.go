package rvc

import (
	"time"

	"github.com/getcharzp/go-voiceconv"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 变声引擎的 Prometheus 指标
type Metrics struct {
	conversions  *prometheus.CounterVec
	stageSeconds *prometheus.HistogramVec
	audioSeconds *prometheus.CounterVec
}

// NewMetrics 创建指标并注册到 reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceconv_conversions_total",
				Help: "Total voice conversions by model and result.",
			},
			[]string{"model", "result"},
		),
		stageSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceconv_stage_duration_seconds",
				Help:    "Duration of each conversion stage in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		audioSeconds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceconv_output_audio_seconds_total",
				Help: "Total seconds of converted audio written.",
			},
			[]string{"model"},
		),
	}
	for _, c := range []prometheus.Collector{m.conversions, m.stageSeconds, m.audioSeconds} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) observeRun(model string, err error, audioSeconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = voiceconv.KindOf(err).String()
	}
	m.conversions.WithLabelValues(model, result).Inc()
	if err == nil {
		m.audioSeconds.WithLabelValues(model).Add(audioSeconds)
	}
}
