package ffmpeg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/gladhopper/fd/internal/domain"
	"github.com/gladhopper/fd/internal/port"
)

// Decoder spawns one ffmpeg process per extraction: seek to the requested
// position, decode a single frame, scale it and emit raw rgb24 on stdout.
type Decoder struct {
	ffmpegPath  string
	ffprobePath string
}

func NewDecoder(ffmpegPath, ffprobePath string) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Decoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

func (d *Decoder) Start(req domain.Request) (port.DecodeProc, error) {
	if _, err := os.Stat(req.Source.Path); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSourceMissing, req.Source.Path)
	}

	// -ss before -i seeks on the demuxer: fast and approximate, which is all
	// the virtual clock needs.
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(req.Position, 'f', 3, 64),
		"-i", req.Source.Path,
		"-frames:v", "1",
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", req.Profile.Width, req.Profile.Height),
		"-preset", req.Profile.Preset,
		"pipe:1",
	}

	cmd := exec.Command(d.ffmpegPath, args...)
	// Own process group so a forced kill takes any ffmpeg children with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &proc{cmd: cmd}
	cmd.Stderr = &p.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", domain.ErrStreamError, err)
	}
	p.stdout = stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", domain.ErrStreamError, err)
	}
	return p, nil
}

type proc struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
}

func (p *proc) Output() io.ReadCloser { return p.stdout }
func (p *proc) Stderr() string        { return p.stderr.String() }
func (p *proc) Pid() int              { return p.cmd.Process.Pid }

func (p *proc) Terminate() error {
	return syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
}

func (p *proc) Kill() error {
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

func (p *proc) Wait() error {
	return p.cmd.Wait()
}

// ClassifyExit maps a decoder exit error plus its stderr onto the error
// taxonomy. Invalid input data is terminal; everything else is a transient
// stream error.
func ClassifyExit(err error, stderr string) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "invalid data found") ||
		strings.Contains(lower, "moov atom not found") ||
		strings.Contains(lower, "invalid argument") {
		return fmt.Errorf("%w: %s", domain.ErrMalformedSource, firstLine(stderr))
	}
	if strings.Contains(lower, "no such file") {
		return fmt.Errorf("%w: %s", domain.ErrSourceMissing, firstLine(stderr))
	}
	return fmt.Errorf("%w: %v: %s", domain.ErrStreamError, err, firstLine(stderr))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

var _ port.Decoder = (*Decoder)(nil)

// Duration probes the container duration in seconds.
func (d *Decoder) Duration(path string) (float64, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	}
	cmd := exec.Command(d.ffprobePath, args...)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	dur, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("no usable duration in ffprobe output")
	}
	return dur, nil
}

var _ port.Prober = (*Decoder)(nil)
