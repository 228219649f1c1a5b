// ABOUTME: Ogg Opus decoder plugin
// ABOUTME: Demuxes Ogg pages and decodes packets with libopus at 48 kHz
package decode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/decoder"
	"github.com/Resonate-Protocol/playd/pkg/input"
)

// opus always decodes at this rate
const opusSampleRate = 48000

// maximum frame duration of 120 ms
const opusMaxFrame = opusSampleRate * 120 / 1000

// Opus decodes Ogg Opus (RFC 7845) with one or two channels
type Opus struct{}

func (Opus) Name() string        { return "opus" }
func (Opus) Suffixes() []string  { return []string{"opus", "ogg"} }
func (Opus) MimeTypes() []string { return []string{"audio/opus", "audio/ogg"} }

type opusHead struct {
	channels int
	preSkip  int
}

func parseOpusHead(p []byte) (opusHead, error) {
	if len(p) < 19 || !bytes.HasPrefix(p, []byte("OpusHead")) {
		return opusHead{}, errors.New("opus: missing OpusHead")
	}
	if p[8]>>4 != 0 {
		return opusHead{}, fmt.Errorf("opus: unsupported version %d", p[8])
	}
	h := opusHead{
		channels: int(p[9]),
		preSkip:  int(binary.LittleEndian.Uint16(p[10:12])),
	}
	if mapping := p[18]; mapping != 0 || h.channels < 1 || h.channels > 2 {
		return opusHead{}, fmt.Errorf("opus: unsupported channel mapping %d with %d channels", mapping, h.channels)
	}
	return h, nil
}

// parseOpusTags reads the comment packet into sc
func parseOpusTags(p []byte, sc *commentScanner) error {
	if !bytes.HasPrefix(p, []byte("OpusTags")) {
		return errors.New("opus: missing OpusTags")
	}
	p = p[8:]
	next := func() ([]byte, bool) {
		if len(p) < 4 {
			return nil, false
		}
		n := int(binary.LittleEndian.Uint32(p))
		if n > len(p)-4 {
			return nil, false
		}
		v := p[4 : 4+n]
		p = p[4+n:]
		return v, true
	}

	if _, ok := next(); !ok {
		return errors.New("opus: truncated vendor string")
	}
	if len(p) < 4 {
		return errors.New("opus: truncated comment count")
	}
	count := int(binary.LittleEndian.Uint32(p))
	p = p[4:]
	for i := 0; i < count; i++ {
		c, ok := next()
		if !ok {
			return errors.New("opus: truncated comment")
		}
		name, value, found := strings.Cut(string(c), "=")
		if !found {
			continue
		}
		if strings.EqualFold(name, "R128_TRACK_GAIN") || strings.EqualFold(name, "R128_ALBUM_GAIN") {
			// Q7.8 relative to -23 LUFS; replay gain references -18 LUFS
			if q, err := strconv.Atoi(value); err == nil {
				db := strconv.FormatFloat(float64(q)/256+5, 'f', 2, 64)
				sc.add("REPLAYGAIN_"+strings.ToUpper(name[5:]), db)
			}
			continue
		}
		sc.add(name, value)
	}
	return nil
}

type opusSource struct {
	demux    *oggPacketReader
	dec      *opus.Decoder
	channels int
	skip     int
	pcm      []int16
	buf      []byte
}

func (s *opusSource) read() ([]byte, uint16, error) {
	for {
		packet, err := s.demux.NextPacket()
		if err != nil {
			return nil, 0, err
		}
		n, err := s.dec.Decode(packet, s.pcm)
		if err != nil {
			return nil, 0, fmt.Errorf("opus: %w", err)
		}
		start := 0
		if s.skip > 0 {
			start = min(s.skip, n)
			s.skip -= start
		}
		if start == n {
			continue
		}
		samples := s.pcm[start*s.channels : n*s.channels]
		out := s.buf[:len(samples)*2]
		for i, v := range samples {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		return out, 0, nil
	}
}

func (s *opusSource) seek(uint64) error {
	return errors.New("opus: seeking is not supported")
}

// StreamDecode implements decoder.StreamDecoder
func (Opus) StreamDecode(c decoder.Client, is input.Stream) error {
	demux := newOggPacketReader(decoder.NewReader(c, is))

	first, err := demux.NextPacket()
	if err != nil {
		return fmt.Errorf("opus: %w", err)
	}
	head, err := parseOpusHead(first)
	if err != nil {
		return err
	}
	tags, err := demux.NextPacket()
	if err != nil {
		return fmt.Errorf("opus: %w", err)
	}
	sc := newCommentScanner()
	if err := parseOpusTags(tags, sc); err != nil {
		return err
	}

	dec, err := opus.NewDecoder(opusSampleRate, head.channels)
	if err != nil {
		return fmt.Errorf("opus: %w", err)
	}

	f := audio.Format{SampleRate: opusSampleRate, Format: audio.SampleFormatS16, Channels: head.channels}
	c.Ready(f, false, -1)
	if sc.submit(c, is) == decoder.CommandStop {
		return nil
	}

	src := &opusSource{
		demux:    demux,
		dec:      dec,
		channels: head.channels,
		skip:     head.preSkip,
		pcm:      make([]int16, opusMaxFrame*head.channels),
		buf:      make([]byte, opusMaxFrame*head.channels*2),
	}
	return run(c, is, src, false)
}
