// ABOUTME: Pipe output that feeds raw PCM to a shell command
// ABOUTME: The command is started on Open and receives the format in its environment
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// Pipe writes PCM to the standard input of a command
type Pipe struct {
	command string

	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewPipe creates a pipe output for the "command" parameter
func NewPipe(p Params) (*Pipe, error) {
	command := p.String("command", "")
	if command == "" {
		return nil, errors.New("no command configured")
	}
	return &Pipe{command: command}, nil
}

func (p *Pipe) Open(f audio.Format) (audio.Format, error) {
	cmd := exec.Command("sh", "-c", p.command)
	cmd.Env = append(os.Environ(),
		"PLAYD_FORMAT="+f.String(),
		fmt.Sprintf("PLAYD_SAMPLE_RATE=%d", f.SampleRate),
		fmt.Sprintf("PLAYD_CHANNELS=%d", f.Channels),
		fmt.Sprintf("PLAYD_BITS=%d", f.Format.Bits()),
	)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return f, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return f, fmt.Errorf("failed to start %q: %w", p.command, err)
	}

	p.cmd = cmd
	p.stdin = stdin
	return f, nil
}

func (p *Pipe) Play(b []byte) (int, error) {
	if p.stdin == nil {
		return 0, fmt.Errorf("output not opened")
	}
	n, err := p.stdin.Write(b)
	if err != nil {
		return n, fmt.Errorf("write to %q: %w", p.command, err)
	}
	return n, nil
}

func (p *Pipe) Drain() error { return nil }

func (p *Pipe) Cancel() {}

// Pause is unsupported; the command is restarted on resume
func (p *Pipe) Pause() error { return ErrPauseUnsupported }

// Close ends the command's input and waits for it to exit
func (p *Pipe) Close() error {
	if p.cmd == nil {
		return nil
	}
	p.stdin.Close()
	err := p.cmd.Wait()
	p.cmd, p.stdin = nil, nil
	if err != nil {
		return fmt.Errorf("command %q: %w", p.command, err)
	}
	return nil
}
