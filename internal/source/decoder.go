package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/MrWong99/vcplay/pkg/audio"
)

// Pipeline is a running decoder. Reading yields signed 16-bit little-endian
// PCM at [audio.SampleRate] Hz with [audio.Channels] interleaved channels.
type Pipeline interface {
	io.Reader

	// Abort stops the decoder so that a pending Read returns. It may be
	// called concurrently with Read.
	Abort()

	// Close aborts the decoder and waits until it has fully exited.
	Close() error
}

// Decoder turns an encoded byte stream into PCM.
type Decoder interface {
	Start(in io.Reader) (Pipeline, error)
}

// Command is a [Decoder] that runs an external process reading the encoded
// input on stdin and writing PCM to stdout.
type Command struct {
	Path string
	Args []string
}

// FFmpeg returns a [Command] decoding any container/codec ffmpeg understands
// into the PCM layout expected by the voice transport.
func FFmpeg(path string) Command {
	if path == "" {
		path = "ffmpeg"
	}
	return Command{
		Path: path,
		Args: []string{
			"-hide_banner",
			"-loglevel", "error",
			"-i", "pipe:0",
			"-f", "s16le",
			"-ar", strconv.Itoa(audio.SampleRate),
			"-ac", strconv.Itoa(audio.Channels),
			"pipe:1",
		},
	}
}

// Start launches the process with in connected to its stdin.
func (c Command) Start(in io.Reader) (Pipeline, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Stdin = in
	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}
	return &process{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type process struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr *tailBuffer

	closeOnce sync.Once
	closeErr  error
}

func (p *process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *process) Abort() {
	_ = p.cmd.Process.Kill()
}

func (p *process) Close() error {
	p.closeOnce.Do(func() {
		p.Abort()
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.closeErr = err
		}
	})
	return p.closeErr
}

// Stderr returns the tail of the decoder's diagnostic output.
func (p *process) Stderr() string {
	return p.stderr.String()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(b)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf.Bytes()))
}
