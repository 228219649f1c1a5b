// ABOUTME: Tests for the Prometheus collector
// ABOUTME: Checks metric counts and scraped values
package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Resonate-Protocol/playd/pkg/outputs"
	"github.com/Resonate-Protocol/playd/pkg/player"
)

type fakePlayer struct{ st player.Status }

func (p fakePlayer) Status() player.Status { return p.st }

type fakeOutputs []outputs.Info

func (o fakeOutputs) Outputs() []outputs.Info { return o }

type fakePool struct{ size, out int }

func (p fakePool) Size() int        { return p.size }
func (p fakePool) Outstanding() int { return p.out }

func newTestCollector() *Collector {
	return NewCollector(
		fakePlayer{player.Status{State: player.StatePlay, ElapsedTime: 1500 * time.Millisecond, BitRate: 320}},
		fakeOutputs{
			{Name: "speaker", Enabled: true, Open: true, Volume: 70, ChunksPlayed: 12},
			{Name: "web", Volume: -1, Failures: 2},
		},
		fakePool{size: 16, out: 3},
	)
}

func TestCollectCount(t *testing.T) {
	// 2 pool + 3 state + elapsed + play time + bit rate, then 5 for speaker
	// and 4 for the mixerless web output
	if n := testutil.CollectAndCount(newTestCollector()); n != 17 {
		t.Errorf("expected 17 metrics, got %d", n)
	}
}

func TestHandlerExposesValues(t *testing.T) {
	h, err := Handler(newTestCollector())
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	want := []string{
		"playd_buffer_chunks 16",
		"playd_buffer_chunks_outstanding 3",
		`playd_player_state{state="play"} 1`,
		`playd_player_state{state="stop"} 0`,
		"playd_player_elapsed_seconds 1.5",
		`playd_output_volume_percent{output="speaker"} 70`,
		`playd_output_failures_total{output="web"} 2`,
		"go_goroutines",
	}
	for _, w := range want {
		if !strings.Contains(text, w) {
			t.Errorf("metrics output missing %q", w)
		}
	}
	if strings.Contains(text, `playd_output_volume_percent{output="web"}`) {
		t.Error("volume reported for an output without mixer")
	}
}
