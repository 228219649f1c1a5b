// ABOUTME: Adapter between the status screen and the running pipeline
// ABOUTME: Builds TUI snapshots and runs its key commands
package main

import (
	"github.com/Resonate-Protocol/playd/internal/queue"
	"github.com/Resonate-Protocol/playd/internal/ui"
	"github.com/Resonate-Protocol/playd/pkg/outputs"
	"github.com/Resonate-Protocol/playd/pkg/player"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

type daemon struct {
	player  *player.Control
	queue   *queue.Queue
	outputs *outputs.MultipleOutputs
}

func (d *daemon) status() ui.StatusMsg {
	st := d.player.Status()
	repeat, single := d.queue.Modes()

	msg := ui.StatusMsg{
		State:     st.State.String(),
		Elapsed:   st.ElapsedTime,
		Duration:  st.TotalTime,
		BitRate:   int(st.BitRate),
		Volume:    d.outputs.GetVolume(),
		Repeat:    repeat,
		Single:    single,
		CrossFade: d.player.CrossFadeSettings().Duration,
		Length:    d.queue.Len(),
	}
	if st.State != player.StateStop && st.Format.IsDefined() {
		msg.Format = st.Format.String()
	}

	if i, cur := d.queue.Current(); cur != nil {
		msg.Position = i
		msg.URI = cur.URI
		t := cur.Tag
		msg.Title = t.Get(tag.Title)
		if msg.Title == "" {
			msg.Title = t.Get(tag.Name)
		}
		msg.Artist = t.Get(tag.Artist)
		msg.Album = t.Get(tag.Album)
	}

	for _, o := range d.outputs.Outputs() {
		msg.Outputs = append(msg.Outputs, ui.OutputLine{Name: o.Name, Enabled: o.Enabled, Open: o.Open})
	}
	if err := d.player.Error(); err != nil {
		msg.Error = err.Error()
	}
	return msg
}

func (d *daemon) TogglePause()    { d.player.Pause() }
func (d *daemon) Stop()           { d.queue.Stop() }
func (d *daemon) Next() error     { return d.queue.Next() }
func (d *daemon) Previous() error { return d.queue.Previous() }

func (d *daemon) SetVolume(percent int) error {
	return d.outputs.SetVolume(percent)
}

func (d *daemon) ToggleOutput(i int) error {
	_, err := d.outputs.ToggleOutput(i)
	return err
}

func (d *daemon) ToggleRepeat() {
	repeat, _ := d.queue.Modes()
	d.queue.SetRepeat(!repeat)
}

func (d *daemon) ToggleSingle() {
	_, single := d.queue.Modes()
	d.queue.SetSingle(!single)
}
