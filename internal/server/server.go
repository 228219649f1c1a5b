// ABOUTME: HTTP control server for the daemon
// ABOUTME: JSON transport commands, idle events, metrics and stream output mounts
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/internal/idle"
	"github.com/Resonate-Protocol/playd/internal/queue"
	"github.com/Resonate-Protocol/playd/pkg/outputs"
	"github.com/Resonate-Protocol/playd/pkg/player"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
	"github.com/Resonate-Protocol/playd/pkg/song"
)

// Player is the part of player.Control the API drives
type Player interface {
	Status() player.Status
	SetPause(pause bool)
	Pause()
	Error() error
	ClearError()
	SetBorderPause(pause bool)
	SetCrossFade(d time.Duration)
	SetMixRampDB(db float32)
	SetMixRampDelay(d time.Duration)
	CrossFadeSettings() player.CrossFadeSettings
	SetReplayGainMode(m replaygain.Mode)
}

// Queue is the play queue
type Queue interface {
	Play(i int) error
	SeekTo(i int, t time.Duration) error
	Next() error
	Previous() error
	Stop()
	Add(songs ...*song.Song)
	Clear()
	Songs() []*song.Song
	Current() (int, *song.Song)
	SetRepeat(on bool)
	SetSingle(on bool)
	Modes() (repeat, single bool)
}

// Outputs is the output set
type Outputs interface {
	Outputs() []outputs.Info
	FindByName(name string) *outputs.Control
	EnableOutput(i int) error
	DisableOutput(i int) error
	ToggleOutput(i int) (bool, error)
	GetVolume() int
	SetVolume(percent int) error
}

// Config holds server configuration
type Config struct {
	Listen string
	// MusicDirectory resolves relative URIs added to the queue
	MusicDirectory string
}

// Server serves the HTTP API
type Server struct {
	config  Config
	player  Player
	queue   Queue
	outputs Outputs
	hub     *idle.Hub

	mux        *http.ServeMux
	httpServer *http.Server

	// replay gain mode as last set through the API
	rgMu   sync.Mutex
	rgMode replaygain.Mode
}

// New creates a server; metrics may be nil
func New(config Config, p Player, q Queue, o Outputs, hub *idle.Hub, metrics http.Handler) *Server {
	s := &Server{
		config:  config,
		player:  p,
		queue:   q,
		outputs: o,
		hub:     hub,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/play", s.handlePlay)
	s.mux.HandleFunc("POST /api/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/next", s.handleNext)
	s.mux.HandleFunc("POST /api/previous", s.handlePrevious)
	s.mux.HandleFunc("POST /api/seek", s.handleSeek)
	s.mux.HandleFunc("POST /api/clearerror", s.handleClearError)
	s.mux.HandleFunc("GET /api/queue", s.handleQueue)
	s.mux.HandleFunc("POST /api/queue", s.handleQueueAdd)
	s.mux.HandleFunc("DELETE /api/queue", s.handleQueueClear)
	s.mux.HandleFunc("POST /api/options", s.handleOptions)
	s.mux.HandleFunc("GET /api/outputs", s.handleOutputs)
	s.mux.HandleFunc("POST /api/outputs/{name}/{action}", s.handleOutputAction)
	s.mux.HandleFunc("GET /api/volume", s.handleVolume)
	s.mux.HandleFunc("PUT /api/volume", s.handleSetVolume)
	s.mux.HandleFunc("GET /stream/{name}", s.handleStream)
	if hub != nil {
		s.mux.Handle("GET /idle", hub)
	}
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.config.Listen).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Streams and idle clients hold connections open; close them first
	if s.hub != nil {
		s.hub.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
		s.httpServer.Close()
	}
	return nil
}

func (s *Server) notify(subsystem string) {
	if s.hub != nil {
		s.hub.Broadcast(subsystem)
	}
}

// SongInfo is a song in API responses
type SongInfo struct {
	Position int               `json:"pos"`
	URI      string            `json:"uri"`
	Duration float64           `json:"duration,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	State        string    `json:"state"`
	Elapsed      float64   `json:"elapsed"`
	Duration     float64   `json:"duration"`
	BitRate      uint16    `json:"bitrate"`
	Format       string    `json:"audio,omitempty"`
	Song         *SongInfo `json:"song,omitempty"`
	Volume       int       `json:"volume"`
	Repeat       bool      `json:"repeat"`
	Single       bool      `json:"single"`
	CrossFade    float64   `json:"xfade"`
	MixRampDB    float32   `json:"mixrampdb"`
	MixRampDelay float64   `json:"mixrampdelay"`
	ReplayGain   string    `json:"replay_gain"`
	Error        string    `json:"error,omitempty"`
}

func songInfo(pos int, s *song.Song) *SongInfo {
	info := &SongInfo{Position: pos, URI: s.URI, Duration: s.Duration().Seconds()}
	if s.Tag != nil {
		info.Tags = s.Tag.Map()
	}
	return info
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.player.Status()
	repeat, single := s.queue.Modes()
	xf := s.player.CrossFadeSettings()

	s.rgMu.Lock()
	rg := s.rgMode
	s.rgMu.Unlock()

	resp := StatusResponse{
		State:        st.State.String(),
		Elapsed:      st.ElapsedTime.Seconds(),
		Duration:     st.TotalTime.Seconds(),
		BitRate:      st.BitRate,
		Volume:       s.outputs.GetVolume(),
		Repeat:       repeat,
		Single:       single,
		CrossFade:    xf.Duration.Seconds(),
		MixRampDB:    xf.MixRampDB,
		MixRampDelay: xf.MixRampDelay.Seconds(),
		ReplayGain:   rg.String(),
	}
	if st.State != player.StateStop && st.Format.IsDefined() {
		resp.Format = st.Format.String()
	}
	if i, cur := s.queue.Current(); cur != nil {
		resp.Song = songInfo(i, cur)
	}
	if err := s.player.Error(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	pos := 0
	if i, cur := s.queue.Current(); cur != nil {
		pos = i
	}
	if v := r.URL.Query().Get("pos"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pos: %w", err))
			return
		}
		pos = n
	}
	s.reply(w, s.queue.Play(pos))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	switch v := r.URL.Query().Get("state"); v {
	case "":
		s.player.Pause()
	default:
		pause, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid state: %w", err))
			return
		}
		s.player.SetPause(pause)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.queue.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.reply(w, s.queue.Next())
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s.reply(w, s.queue.Previous())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pos := -1
	if i, cur := s.queue.Current(); cur != nil {
		pos = i
	}
	if v := q.Get("pos"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pos: %w", err))
			return
		}
		pos = n
	}
	secs, err := strconv.ParseFloat(q.Get("time"), 64)
	if err != nil || secs < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid time %q", q.Get("time")))
		return
	}
	if pos < 0 {
		writeError(w, http.StatusConflict, errors.New("nothing to seek"))
		return
	}
	s.reply(w, s.queue.SeekTo(pos, time.Duration(secs*float64(time.Second))))
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	s.player.ClearError()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	songs := s.queue.Songs()
	out := make([]*SongInfo, 0, len(songs))
	for i, sg := range songs {
		out = append(out, songInfo(i, sg))
	}
	writeJSON(w, http.StatusOK, out)
}

// AddRequest is the body of POST /api/queue
type AddRequest struct {
	URIs []string `json:"uris"`
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if len(req.URIs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no uris"))
		return
	}

	songs := make([]*song.Song, 0, len(req.URIs))
	for _, u := range req.URIs {
		songs = append(songs, song.New(s.resolve(u)))
	}
	s.queue.Add(songs...)
	w.WriteHeader(http.StatusNoContent)
}

// resolve maps a relative path into the music directory
func (s *Server) resolve(uri string) string {
	sg := song.New(uri)
	if sg.IsRemote() || s.config.MusicDirectory == "" || filepath.IsAbs(uri) {
		return uri
	}
	return filepath.Join(s.config.MusicDirectory, uri)
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	s.queue.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// OptionsRequest is the body of POST /api/options; absent fields are kept
type OptionsRequest struct {
	Repeat       *bool    `json:"repeat,omitempty"`
	Single       *bool    `json:"single,omitempty"`
	CrossFade    *float64 `json:"xfade,omitempty"`
	MixRampDB    *float32 `json:"mixrampdb,omitempty"`
	MixRampDelay *float64 `json:"mixrampdelay,omitempty"`
	ReplayGain   *string  `json:"replay_gain,omitempty"`
	BorderPause  *bool    `json:"border_pause,omitempty"`
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	var req OptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	// Validate before applying anything
	var mode replaygain.Mode
	if req.ReplayGain != nil {
		m, err := replaygain.ParseMode(*req.ReplayGain)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		mode = m
	}
	if req.CrossFade != nil && *req.CrossFade < 0 {
		writeError(w, http.StatusBadRequest, errors.New("xfade must not be negative"))
		return
	}

	if req.Repeat != nil {
		s.queue.SetRepeat(*req.Repeat)
	}
	if req.Single != nil {
		s.queue.SetSingle(*req.Single)
	}
	if req.CrossFade != nil {
		s.player.SetCrossFade(seconds(*req.CrossFade))
	}
	if req.MixRampDB != nil {
		s.player.SetMixRampDB(*req.MixRampDB)
	}
	if req.MixRampDelay != nil {
		s.player.SetMixRampDelay(seconds(*req.MixRampDelay))
	}
	if req.BorderPause != nil {
		s.player.SetBorderPause(*req.BorderPause)
	}
	if req.ReplayGain != nil {
		s.SetReplayGainMode(mode)
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetReplayGainMode applies and remembers the replay gain mode
func (s *Server) SetReplayGainMode(m replaygain.Mode) {
	s.rgMu.Lock()
	s.rgMode = m
	s.rgMu.Unlock()
	s.player.SetReplayGainMode(m)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// OutputInfo is an output in API responses
type OutputInfo struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Plugin   string `json:"plugin"`
	Enabled  bool   `json:"enabled"`
	Open     bool   `json:"open"`
	Format   string `json:"format,omitempty"`
	Mixer    string `json:"mixer"`
	Volume   int    `json:"volume"`
	Error    string `json:"error,omitempty"`
	Played   uint64 `json:"chunks_played"`
	Failures uint64 `json:"failures"`
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	infos := s.outputs.Outputs()
	out := make([]OutputInfo, 0, len(infos))
	for i, o := range infos {
		oi := OutputInfo{
			ID:       i,
			Name:     o.Name,
			Plugin:   o.Type,
			Enabled:  o.Enabled,
			Open:     o.Open,
			Mixer:    o.MixerType.String(),
			Volume:   o.Volume,
			Played:   o.ChunksPlayed,
			Failures: o.Failures,
		}
		if o.Open {
			oi.Format = o.Format.String()
		}
		if o.Err != nil {
			oi.Error = o.Err.Error()
		}
		out = append(out, oi)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) outputIndex(name string) int {
	for i, o := range s.outputs.Outputs() {
		if o.Name == name {
			return i
		}
	}
	return -1
}

func (s *Server) handleOutputAction(w http.ResponseWriter, r *http.Request) {
	i := s.outputIndex(r.PathValue("name"))
	if i < 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("no such output %q", r.PathValue("name")))
		return
	}

	var err error
	switch r.PathValue("action") {
	case "enable":
		err = s.outputs.EnableOutput(i)
	case "disable":
		err = s.outputs.DisableOutput(i)
	case "toggle":
		_, err = s.outputs.ToggleOutput(i)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", r.PathValue("action")))
		return
	}
	if err == nil {
		s.notify(idle.Output)
	}
	s.reply(w, err)
}

// VolumeBody is the body of the volume endpoints
type VolumeBody struct {
	Volume int `json:"volume"`
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VolumeBody{Volume: s.outputs.GetVolume()})
}

func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var body VolumeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if err := s.outputs.SetVolume(body.Volume); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, outputs.ErrNoMixer) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	s.notify(idle.Mixer)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c := s.outputs.FindByName(r.PathValue("name"))
	if c == nil {
		http.NotFound(w, r)
		return
	}
	h, ok := c.Device().(http.Handler)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("output %q is not a stream", c.Name()))
		return
	}
	h.ServeHTTP(w, r)
}

// reply maps command errors to status codes
func (s *Server) reply(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	status := http.StatusInternalServerError
	var pe *player.Error
	switch {
	case errors.Is(err, queue.ErrBadPosition):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrNotPlaying):
		status = http.StatusConflict
	case errors.As(err, &pe):
		status = http.StatusBadGateway
	}
	writeError(w, status, err)
}

// ErrorResponse is the body of failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}
