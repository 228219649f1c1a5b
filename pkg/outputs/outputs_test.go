// ABOUTME: Tests for the output controls and the fan-out
// ABOUTME: Fake devices record what they are asked to do
package outputs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/output"
	"github.com/Resonate-Protocol/playd/pkg/music"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

var cd = audio.Format{SampleRate: 44100, Format: audio.SampleFormatS16, Channels: 2}

type fakeDevice struct {
	mu       sync.Mutex
	openErr  error
	playErr  error
	pauseErr error
	// accept overrides the format returned by Open
	accept audio.Format
	// gate, when set, blocks every Play until it is closed
	gate    chan struct{}
	playing chan struct{}

	played  []byte
	opened  audio.Format
	opens   int
	closes  int
	pauses  int
	cancels int
}

func (d *fakeDevice) Open(f audio.Format) (audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return f, d.openErr
	}
	if d.accept.IsDefined() {
		f = d.accept
	}
	d.opens++
	d.opened = f
	return f, nil
}

func (d *fakeDevice) Play(p []byte) (int, error) {
	d.mu.Lock()
	gate, playing := d.gate, d.playing
	d.mu.Unlock()

	if playing != nil {
		select {
		case playing <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playErr != nil {
		err := d.playErr
		d.playErr = nil
		return 0, err
	}
	d.played = append(d.played, p...)
	return len(p), nil
}

func (d *fakeDevice) Drain() error { return nil }

func (d *fakeDevice) Cancel() {
	d.mu.Lock()
	d.cancels++
	d.mu.Unlock()
}

func (d *fakeDevice) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauses++
	return d.pauseErr
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) snapshot() (played []byte, opens, closes, pauses int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.played...), d.opens, d.closes, d.pauses
}

type mixerDevice struct {
	fakeDevice
	volume int
}

func (d *mixerDevice) Volume() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume, nil
}

func (d *mixerDevice) SetVolume(v int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = v
	return nil
}

type enablerDevice struct {
	fakeDevice
	enables  atomic.Int32
	disables atomic.Int32
}

func (d *enablerDevice) Enable() error { d.enables.Add(1); return nil }
func (d *enablerDevice) Disable()      { d.disables.Add(1) }

type taggerDevice struct {
	fakeDevice
	tags chan *tag.Tag
}

func (d *taggerDevice) SendTag(t *tag.Tag) { d.tags <- t }

type fakeClient struct {
	consumed atomic.Int32
	applied  atomic.Int32
}

func (c *fakeClient) ChunksConsumed() { c.consumed.Add(1) }
func (c *fakeClient) ApplyEnabled()   { c.applied.Add(1) }

func s16(samples ...int16) []byte {
	b := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		b = binary.LittleEndian.AppendUint16(b, uint16(s))
	}
	return b
}

func newChunk(t *testing.T, b *music.Buffer, f audio.Format, at time.Duration, data []byte) *music.Chunk {
	t.Helper()
	c := b.Allocate()
	if c == nil {
		t.Fatal("buffer exhausted")
	}
	if n, _ := c.Append(f, at, 0, data); n != len(data) {
		t.Fatalf("chunk took %d of %d bytes", n, len(data))
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newOutputs(t *testing.T, cfgs ...Config) (*MultipleOutputs, *fakeClient) {
	t.Helper()
	controls := make([]*Control, 0, len(cfgs))
	for _, cfg := range cfgs {
		controls = append(controls, NewControl(cfg))
	}
	m := New(controls)
	client := &fakeClient{}
	m.SetClient(client)
	t.Cleanup(m.Kill)
	return m, client
}

func TestOpenWithOneFailedOutput(t *testing.T) {
	good := &mixerDevice{volume: 40}
	bad := &mixerDevice{volume: 80}
	bad.openErr = errors.New("no such device")

	m, _ := newOutputs(t,
		Config{Name: "good", Device: good, Enabled: true},
		Config{Name: "bad", Device: bad, Enabled: true},
	)

	if err := m.Open(cd); err != nil {
		t.Fatalf("Open failed with one working output: %v", err)
	}
	if !m.Get(0).IsOpen() || m.Get(1).IsOpen() {
		t.Errorf("open states = %v, %v", m.Get(0).IsOpen(), m.Get(1).IsOpen())
	}
	if v := m.GetVolume(); v != 40 {
		t.Errorf("GetVolume = %d, want 40 from the open output only", v)
	}

	infos := m.Outputs()
	if infos[0].MixerType != MixerHardware {
		t.Errorf("mixer type = %s, want hardware", infos[0].MixerType)
	}
	if infos[1].Err == nil || infos[1].Failures != 1 {
		t.Errorf("failed output info = %+v", infos[1])
	}
}

func TestOpenAllFailedReturnsFirstError(t *testing.T) {
	errA := errors.New("device a")
	a := &fakeDevice{openErr: errA}
	b := &fakeDevice{openErr: errors.New("device b")}

	m, _ := newOutputs(t,
		Config{Name: "a", Device: a, Enabled: true},
		Config{Name: "b", Device: b, Enabled: true},
	)

	err := m.Open(cd)
	if !errors.Is(err, errA) {
		t.Fatalf("Open error = %v, want the first output's error", err)
	}
	if m.InputFormat().IsDefined() {
		t.Error("input format kept after a failed open")
	}
}

func TestOpenAllDisabled(t *testing.T) {
	m, _ := newOutputs(t, Config{Name: "a", Device: &fakeDevice{}})
	if err := m.Open(cd); !errors.Is(err, ErrAllDisabled) {
		t.Errorf("Open error = %v, want ErrAllDisabled", err)
	}
}

func TestPlayFreesChunksPlayedByAll(t *testing.T) {
	a, b := &fakeDevice{}, &fakeDevice{}
	m, client := newOutputs(t,
		Config{Name: "a", Device: a, Enabled: true},
		Config{Name: "b", Device: b, Enabled: true},
	)
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	buf := music.NewBuffer(8)
	var want []byte
	for i := 0; i < 3; i++ {
		data := s16(int16(i), int16(-i), 100, -100)
		want = append(want, data...)
		if err := m.Play(newChunk(t, buf, cd, time.Duration(i)*time.Second, data)); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "pipe to drain", func() bool { return m.CheckPipe() == 0 })

	if !buf.IsEmpty() {
		t.Errorf("%d chunks still outstanding", buf.Outstanding())
	}
	if got := m.ElapsedTime(); got != 2*time.Second {
		t.Errorf("ElapsedTime = %v, want 2s", got)
	}
	for name, d := range map[string]*fakeDevice{"a": a, "b": b} {
		played, _, _, _ := d.snapshot()
		if !bytes.Equal(played, want) {
			t.Errorf("device %s played %v, want %v", name, played, want)
		}
	}
	if client.consumed.Load() == 0 {
		t.Error("player was never woken")
	}
}

func TestChunkKeptUntilEveryOutputConsumedIt(t *testing.T) {
	fast := &fakeDevice{}
	slow := &fakeDevice{gate: make(chan struct{}), playing: make(chan struct{}, 1)}
	m, _ := newOutputs(t,
		Config{Name: "fast", Device: fast, Enabled: true},
		Config{Name: "slow", Device: slow, Enabled: true},
	)
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	buf := music.NewBuffer(4)
	if err := m.Play(newChunk(t, buf, cd, 0, s16(1, 2))); err != nil {
		t.Fatal(err)
	}

	<-slow.playing
	waitFor(t, "fast output", func() bool {
		played, _, _, _ := fast.snapshot()
		return len(played) == 4
	})

	if n := m.CheckPipe(); n != 1 {
		t.Errorf("CheckPipe = %d while an output is still playing, want 1", n)
	}
	if buf.Outstanding() != 1 {
		t.Errorf("outstanding = %d, want 1", buf.Outstanding())
	}

	close(slow.gate)
	waitFor(t, "pipe to drain", func() bool { return m.CheckPipe() == 0 })
	if !buf.IsEmpty() {
		t.Error("chunk not returned after all outputs played it")
	}
}

func TestCancelClearsPipeAndAllowsPlay(t *testing.T) {
	d := &fakeDevice{gate: make(chan struct{}), playing: make(chan struct{}, 1)}
	m, _ := newOutputs(t, Config{Name: "a", Device: d, Enabled: true})
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	buf := music.NewBuffer(4)
	m.Play(newChunk(t, buf, cd, 0, s16(1, 1)))
	m.Play(newChunk(t, buf, cd, time.Second, s16(2, 2)))
	<-d.playing

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(d.gate)
	}()
	m.Cancel()

	if !buf.IsEmpty() {
		t.Errorf("%d chunks outstanding after cancel", buf.Outstanding())
	}
	if m.ElapsedTime() >= 0 {
		t.Errorf("ElapsedTime = %v after cancel, want undefined", m.ElapsedTime())
	}
	d.mu.Lock()
	cancels := d.cancels
	d.mu.Unlock()
	if cancels != 1 {
		t.Errorf("device cancelled %d times, want 1", cancels)
	}

	before, _, _, _ := d.snapshot()
	if err := m.Play(newChunk(t, buf, cd, 0, s16(7, 7))); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "playback after cancel", func() bool {
		played, _, _, _ := d.snapshot()
		return bytes.HasSuffix(played, s16(7, 7)) && len(played) > len(before)
	})
}

func TestPauseUnsupportedClosesDevice(t *testing.T) {
	d := &fakeDevice{pauseErr: output.ErrPauseUnsupported}
	m, _ := newOutputs(t, Config{Name: "a", Device: d, Enabled: true})
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	m.Pause()
	waitFor(t, "device to close", func() bool { return !m.Get(0).IsOpen() })
	if err := m.Get(0).LastError(); err != nil {
		t.Errorf("unsupported pause recorded an error: %v", err)
	}

	buf := music.NewBuffer(2)
	if err := m.Play(newChunk(t, buf, cd, 0, s16(1, 1))); err != nil {
		t.Fatalf("Play after pause failed: %v", err)
	}
	_, opens, closes, _ := d.snapshot()
	if opens != 2 || closes != 1 {
		t.Errorf("opens = %d, closes = %d", opens, closes)
	}
}

func TestPauseKeepsDeviceOpen(t *testing.T) {
	d := &fakeDevice{}
	m, _ := newOutputs(t, Config{Name: "a", Device: d, Enabled: true})
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	m.Pause()
	waitFor(t, "device pause", func() bool {
		_, _, _, pauses := d.snapshot()
		return pauses == 1
	})
	if !m.Get(0).IsOpen() {
		t.Error("paused output closed")
	}

	// resuming reopens on the same pipe without touching the device
	buf := music.NewBuffer(2)
	if err := m.Play(newChunk(t, buf, cd, 0, s16(3, 3))); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "playback after pause", func() bool {
		played, _, _, _ := d.snapshot()
		return len(played) == 4
	})
	if _, opens, _, _ := d.snapshot(); opens != 1 {
		t.Errorf("device opened %d times, want 1", opens)
	}
}

func TestFailedOutputReopensAfterDelay(t *testing.T) {
	d := &fakeDevice{playErr: errors.New("device unplugged")}
	ctl := NewControl(Config{Name: "a", Device: d, Enabled: true})

	var offset atomic.Int64
	base := time.Now()
	ctl.now = func() time.Time { return base.Add(time.Duration(offset.Load())) }

	m := New([]*Control{ctl})
	t.Cleanup(m.Kill)
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	buf := music.NewBuffer(4)
	if err := m.Play(newChunk(t, buf, cd, 0, s16(1, 1))); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "device failure", func() bool { return !ctl.IsOpen() })
	if ctl.LastError() == nil {
		t.Fatal("play failure not recorded")
	}

	if err := m.Play(newChunk(t, buf, cd, 0, s16(2, 2))); !errors.Is(err, ErrNotUpdated) {
		t.Errorf("Play during the reopen delay = %v, want ErrNotUpdated", err)
	}

	offset.Store(int64(reopenAfter + time.Second))
	if err := m.Play(newChunk(t, buf, cd, 0, s16(3, 3))); err != nil {
		t.Errorf("Play after the reopen delay failed: %v", err)
	}
	if _, opens, _, _ := d.snapshot(); opens != 2 {
		t.Errorf("device opened %d times, want 2", opens)
	}
}

func TestReleaseKeepsAlwaysOnOpen(t *testing.T) {
	always := &fakeDevice{}
	normal := &fakeDevice{}
	m, _ := newOutputs(t,
		Config{Name: "always", Device: always, Enabled: true, AlwaysOn: true},
		Config{Name: "normal", Device: normal, Enabled: true},
	)
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	m.Release()

	if !m.Get(0).IsOpen() {
		t.Error("always-on output closed on release")
	}
	if m.Get(1).IsOpen() {
		t.Error("normal output still open after release")
	}
	waitFor(t, "always-on pause", func() bool {
		_, _, _, pauses := always.snapshot()
		return pauses == 1
	})
	if m.InputFormat().IsDefined() {
		t.Error("input format kept after release")
	}
}

func TestEnableDisable(t *testing.T) {
	d := &enablerDevice{}
	m, client := newOutputs(t, Config{Name: "a", Device: d})

	if err := m.Open(cd); !errors.Is(err, ErrAllDisabled) {
		t.Fatalf("Open = %v, want ErrAllDisabled", err)
	}

	if err := m.EnableOutput(0); err != nil {
		t.Fatal(err)
	}
	if client.applied.Load() != 1 {
		t.Errorf("ApplyEnabled called %d times, want 1", client.applied.Load())
	}
	if err := m.Open(cd); err != nil {
		t.Fatalf("Open after enabling: %v", err)
	}
	if d.enables.Load() != 1 {
		t.Errorf("Enable called %d times, want 1", d.enables.Load())
	}

	enabled, err := m.ToggleOutput(0)
	if err != nil || enabled {
		t.Fatalf("ToggleOutput = %v, %v", enabled, err)
	}
	m.EnableDisable()
	if d.disables.Load() != 1 {
		t.Errorf("Disable called %d times, want 1", d.disables.Load())
	}
	if m.Get(0).IsOpen() {
		t.Error("disabled output still open")
	}

	if err := m.EnableOutput(5); err == nil {
		t.Error("expected error for a missing output")
	}
}

func TestSoftwareVolume(t *testing.T) {
	d := &fakeDevice{}
	m, _ := newOutputs(t, Config{Name: "a", Device: d, Enabled: true, MixerType: MixerSoftware})
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	if v := m.GetVolume(); v != 100 {
		t.Errorf("initial volume = %d, want 100", v)
	}
	if err := m.SetVolume(0); err != nil {
		t.Fatal(err)
	}
	if v := m.GetVolume(); v != 0 {
		t.Errorf("volume = %d after SetVolume(0)", v)
	}

	buf := music.NewBuffer(2)
	m.Play(newChunk(t, buf, cd, 0, s16(1000, -1000)))
	waitFor(t, "playback", func() bool {
		played, _, _, _ := d.snapshot()
		return len(played) == 4
	})
	if played, _, _, _ := d.snapshot(); !bytes.Equal(played, s16(0, 0)) {
		t.Errorf("muted output played %v", played)
	}

	if err := m.SetVolume(101); err == nil {
		t.Error("expected range error")
	}
}

func TestNoMixer(t *testing.T) {
	m, _ := newOutputs(t, Config{Name: "a", Device: &fakeDevice{}, Enabled: true, MixerType: MixerNone})
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}
	if v := m.GetVolume(); v != -1 {
		t.Errorf("GetVolume = %d, want -1", v)
	}
	if err := m.SetVolume(50); !errors.Is(err, ErrNoMixer) {
		t.Errorf("SetVolume = %v, want ErrNoMixer", err)
	}
}

func TestCrossFadeMix(t *testing.T) {
	tests := []struct {
		name  string
		ratio float32
		want  int16
	}{
		{"weighted", 0.25, 2500},
		{"mixramp adds", -1, 4000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDevice{}
			m, _ := newOutputs(t, Config{Name: "a", Device: d, Enabled: true})
			if err := m.Open(cd); err != nil {
				t.Fatal(err)
			}

			buf := music.NewBuffer(4)
			c := newChunk(t, buf, cd, 0, s16(1000, 1000))
			c.Other = newChunk(t, buf, cd, 0, s16(3000, 3000, 5, 5))
			c.MixRatio = tt.ratio
			m.Play(c)

			waitFor(t, "playback", func() bool {
				played, _, _, _ := d.snapshot()
				return len(played) == 8
			})
			played, _, _, _ := d.snapshot()
			want := s16(tt.want, tt.want, 5, 5)
			if !bytes.Equal(played, want) {
				t.Errorf("played %v, want %v", played, want)
			}

			waitFor(t, "pipe to drain", func() bool { return m.CheckPipe() == 0 })
			if !buf.IsEmpty() {
				t.Error("cross-fade partner not released")
			}
		})
	}
}

func TestConvertsToDeviceFormat(t *testing.T) {
	in := audio.Format{SampleRate: 44100, Format: audio.SampleFormatS24P32, Channels: 2}
	d := &fakeDevice{accept: cd}
	m, _ := newOutputs(t, Config{Name: "a", Device: d, Enabled: true})
	if err := m.Open(in); err != nil {
		t.Fatal(err)
	}

	low, high := int32(256), int32(-512)
	var data []byte
	data = binary.LittleEndian.AppendUint32(data, uint32(low))
	data = binary.LittleEndian.AppendUint32(data, uint32(high))

	buf := music.NewBuffer(2)
	m.Play(newChunk(t, buf, in, 0, data))
	waitFor(t, "playback", func() bool {
		played, _, _, _ := d.snapshot()
		return len(played) == 4
	})
	if played, _, _, _ := d.snapshot(); !bytes.Equal(played, s16(1, -2)) {
		t.Errorf("converted samples = %v", played)
	}
	if info := m.Outputs()[0]; info.Format != cd {
		t.Errorf("device format = %s", info.Format)
	}
}

func TestFormatMaskAppliedOnOpen(t *testing.T) {
	d := &fakeDevice{}
	m, _ := newOutputs(t, Config{
		Name:    "a",
		Device:  d,
		Enabled: true,
		Format:  audio.Format{SampleRate: 48000},
	})
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}
	d.mu.Lock()
	opened := d.opened
	d.mu.Unlock()
	if opened.SampleRate != 48000 || opened.Channels != 2 || opened.Format != audio.SampleFormatS16 {
		t.Errorf("device opened with %s", opened)
	}
}

func TestTagForwarded(t *testing.T) {
	d := &taggerDevice{tags: make(chan *tag.Tag, 1)}
	m, _ := newOutputs(t, Config{Name: "a", Device: d, Enabled: true})
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	buf := music.NewBuffer(2)
	c := buf.Allocate()
	c.Tag = tag.New()
	c.Tag.Add(tag.Title, "Hello")
	m.Play(c)

	select {
	case got := <-d.tags:
		if got.Get(tag.Title) != "Hello" {
			t.Errorf("tag title = %q", got.Get(tag.Title))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tag not forwarded")
	}
	waitFor(t, "pipe to drain", func() bool { return m.CheckPipe() == 0 })
}

func TestReplayGainApplied(t *testing.T) {
	d := &fakeDevice{}
	m, _ := newOutputs(t, Config{Name: "a", Device: d, Enabled: true, MixerType: MixerNone})
	m.SetReplayGainMode(replaygain.ModeTrack)
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}

	buf := music.NewBuffer(2)
	c := newChunk(t, buf, cd, 0, s16(1000, 1000))
	c.ReplayGainSerial = 1
	// -6.0206 dB halves the amplitude
	c.ReplayGainInfo.Track = replaygain.Tuple{Gain: -6.0206, Peak: 0.5}
	m.Play(c)

	waitFor(t, "playback", func() bool {
		played, _, _, _ := d.snapshot()
		return len(played) == 4
	})
	if played, _, _, _ := d.snapshot(); !bytes.Equal(played, s16(500, 500)) {
		t.Errorf("replay gain output = %v, want halved samples", played)
	}
}

func TestParseMixerType(t *testing.T) {
	tests := []struct {
		in      string
		want    MixerType
		wantErr bool
	}{
		{"", MixerDefault, false},
		{"software", MixerSoftware, false},
		{"Hardware", MixerHardware, false},
		{"none", MixerNone, false},
		{"alsa", MixerDefault, true},
	}
	for _, tt := range tests {
		got, err := ParseMixerType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMixerType(%q) = %s, %v", tt.in, got, err)
		}
	}
}

func TestKillIsIdempotent(t *testing.T) {
	m, _ := newOutputs(t, Config{Name: "a", Device: &fakeDevice{}, Enabled: true})
	if err := m.Open(cd); err != nil {
		t.Fatal(err)
	}
	m.Kill()
	m.Kill()
}
