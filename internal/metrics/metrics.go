// ABOUTME: Prometheus collector exposing pipeline, player and output state
// ABOUTME: Values are read on scrape so nothing in the pipeline updates metrics
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Resonate-Protocol/playd/pkg/outputs"
	"github.com/Resonate-Protocol/playd/pkg/player"
)

const namespace = "playd"

// Player is the status source
type Player interface {
	Status() player.Status
}

// Outputs lists the output snapshots
type Outputs interface {
	Outputs() []outputs.Info
}

// Pool reports the chunk pool usage
type Pool interface {
	Size() int
	Outstanding() int
}

// Collector implements prometheus.Collector
type Collector struct {
	player  Player
	outputs Outputs
	pool    Pool

	bufferChunks      *prometheus.Desc
	bufferOutstanding *prometheus.Desc
	state             *prometheus.Desc
	elapsed           *prometheus.Desc
	playTime          *prometheus.Desc
	bitRate           *prometheus.Desc
	outputOpen        *prometheus.Desc
	outputEnabled     *prometheus.Desc
	outputVolume      *prometheus.Desc
	outputChunks      *prometheus.Desc
	outputFailures    *prometheus.Desc
}

// NewCollector creates a collector over the running pipeline
func NewCollector(p Player, o Outputs, pool Pool) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		player:  p,
		outputs: o,
		pool:    pool,

		bufferChunks:      desc("buffer_chunks", "Capacity of the chunk pool."),
		bufferOutstanding: desc("buffer_chunks_outstanding", "Chunks currently allocated from the pool."),
		state:             desc("player_state", "1 for the current player state.", "state"),
		elapsed:           desc("player_elapsed_seconds", "Position in the current song."),
		playTime:          desc("player_play_seconds_total", "Audio handed to the outputs since startup."),
		bitRate:           desc("player_bit_rate_kbps", "Bit rate of the current song."),
		outputOpen:        desc("output_open", "1 while the output device is open.", "output"),
		outputEnabled:     desc("output_enabled", "1 while the output is enabled.", "output"),
		outputVolume:      desc("output_volume_percent", "Mixer volume, absent without a mixer.", "output"),
		outputChunks:      desc("output_chunks_played_total", "Chunks played by the output.", "output"),
		outputFailures:    desc("output_failures_total", "Device failures of the output.", "output"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bufferChunks
	ch <- c.bufferOutstanding
	ch <- c.state
	ch <- c.elapsed
	ch <- c.playTime
	ch <- c.bitRate
	ch <- c.outputOpen
	ch <- c.outputEnabled
	ch <- c.outputVolume
	ch <- c.outputChunks
	ch <- c.outputFailures
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.bufferChunks, float64(c.pool.Size()))
	gauge(c.bufferOutstanding, float64(c.pool.Outstanding()))

	st := c.player.Status()
	for _, s := range []player.State{player.StateStop, player.StatePlay, player.StatePause} {
		gauge(c.state, boolValue(st.State == s), s.String())
	}
	gauge(c.elapsed, st.ElapsedTime.Seconds())
	counter(c.playTime, st.TotalPlayTime.Seconds())
	gauge(c.bitRate, float64(st.BitRate))

	for _, o := range c.outputs.Outputs() {
		gauge(c.outputOpen, boolValue(o.Open), o.Name)
		gauge(c.outputEnabled, boolValue(o.Enabled), o.Name)
		if o.Volume >= 0 {
			gauge(c.outputVolume, float64(o.Volume), o.Name)
		}
		counter(c.outputChunks, float64(o.ChunksPlayed), o.Name)
		counter(c.outputFailures, float64(o.Failures), o.Name)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler returns the /metrics handler for a registry holding c plus the Go
// runtime collectors
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
