package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultFFmpegPath assumes ffmpeg is on PATH.
	DefaultFFmpegPath = "ffmpeg"
	// DefaultFormat is the container written to stdout.
	DefaultFormat = "matroska"

	stopGrace = 5 * time.Second
	// maxDiagnosticLine bounds one stderr line; longer lines are discarded.
	maxDiagnosticLine = 1 << 20
)

// FFmpegConfig describes the transcoder invocation.
type FFmpegConfig struct {
	Path    string
	URL     string
	Format  string
	RTSPTCP bool
	// Width and Height scale the output when both are positive.
	Width  int
	Height int
	// OverlayFont enables a local-time drawtext overlay using this font file.
	OverlayFont string
}

// Args builds the ffmpeg argument list: input, optional filters, container on stdout.
func (c FFmpegConfig) Args() []string {
	args := []string{"-hide_banner", "-nostdin", "-nostats"}
	if c.RTSPTCP && strings.HasPrefix(strings.ToLower(c.URL), "rtsp") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", c.URL, "-c:v", "libx264")

	var filters []string
	if c.Width > 0 && c.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", c.Width, c.Height))
	}
	if c.OverlayFont != "" {
		filters = append(filters, "drawtext=fontfile="+c.OverlayFont+
			": text='%{localtime}': x=(w-tw)/2: y=100: fontcolor=white: box=1: boxcolor=0x00000000@1: fontsize=30")
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	format := c.Format
	if format == "" {
		format = DefaultFormat
	}
	return append(args, "-f", format, "-")
}

// CheckFFmpeg verifies that the binary at path runs and identifies itself.
func CheckFFmpeg(path string) (string, error) {
	if path == "" {
		path = DefaultFFmpegPath
	}
	out, err := exec.Command(path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found: %w", err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	if !strings.Contains(first, "ffmpeg version") {
		return "", fmt.Errorf("ffmpeg not properly installed")
	}
	return strings.TrimSpace(first), nil
}

var dimsPattern = regexp.MustCompile(`Video:.*?\b(\d{2,5})x(\d{2,5})\b`)

// ParseDimensions extracts the frame size from an ffmpeg stream description line.
// Sizes that do not fit the 16-bit preamble fields are rejected.
func ParseDimensions(line string) (Dimensions, bool) {
	m := dimsPattern.FindStringSubmatch(line)
	if m == nil {
		return Dimensions{}, false
	}
	w, err1 := strconv.Atoi(m[1])
	h, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || w == 0 || h == 0 || w > math.MaxUint16 || h > math.MaxUint16 {
		return Dimensions{}, false
	}
	return Dimensions{Width: w, Height: h}, true
}

type process struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// FFmpeg runs the transcoder as a subprocess and streams its stdout.
type FFmpeg struct {
	cfg    FFmpegConfig
	logger *zap.Logger

	mu        sync.Mutex
	cur       *process
	dims      Dimensions
	dimsKnown bool
}

// NewFFmpeg creates an ffmpeg-backed connection.
func NewFFmpeg(cfg FFmpegConfig, logger *zap.Logger) *FFmpeg {
	if cfg.Path == "" {
		cfg.Path = DefaultFFmpegPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{cfg: cfg, logger: logger}
}

// Start spawns ffmpeg and returns once the process is running.
func (f *FFmpeg) Start(ctx context.Context, gen uint64, events chan<- Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur != nil {
		select {
		case <-f.cur.done:
		default:
			return ErrAlreadyRunning
		}
	}

	cmd := exec.Command(f.cfg.Path, f.cfg.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p := &process{cmd: cmd, cancel: cancel, done: make(chan struct{})}
	f.cur = p
	f.logger.Info("ffmpeg started", zap.String("url", f.cfg.URL), zap.Int("pid", cmd.Process.Pid), zap.Uint64("gen", gen))

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		f.scanDiagnostics(runCtx, gen, stderr, events)
	}()

	go func() {
		readErr := pump(runCtx, gen, stdout, events)
		// Drain so ffmpeg never blocks on a full pipe while exiting.
		_, _ = io.Copy(io.Discard, stdout)
		<-stderrDone
		waitErr := cmd.Wait()
		cancel()

		err := readErr
		if err == nil {
			err = waitErr
		}
		f.logger.Info("ffmpeg exited", zap.Uint64("gen", gen), zap.Error(err))
		close(p.done)
		if !p.stopped.Load() {
			emit(ctx, events, Event{Kind: EventClosed, Gen: gen, Err: err})
		}
	}()
	return nil
}

// scanDiagnostics reads stderr until EOF. It always drains r, so ffmpeg never
// blocks on a full stderr pipe.
func (f *FFmpeg) scanDiagnostics(ctx context.Context, gen uint64, r io.Reader, events chan<- Event) {
	defer func() { _, _ = io.Copy(io.Discard, r) }()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxDiagnosticLine)
	scanner.Split(scanLines)
	announced := false
	inOutput := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Output #") {
			inOutput = true
		}
		if !announced && inOutput {
			if d, ok := ParseDimensions(line); ok {
				announced = true
				f.mu.Lock()
				f.dims, f.dimsKnown = d, true
				f.mu.Unlock()
				f.logger.Info("stream dimensions", zap.Int("width", d.Width), zap.Int("height", d.Height))
				emit(ctx, events, Event{Kind: EventDimensions, Gen: gen, Dims: d})
				continue
			}
		}
		f.logger.Debug("ffmpeg", zap.String("line", line))
	}
	if err := scanner.Err(); err != nil {
		f.logger.Warn("ffmpeg diagnostics unreadable, discarding the rest", zap.Uint64("gen", gen), zap.Error(err))
	}
}

// scanLines splits on '\n' and on the bare '\r' ffmpeg ends progress updates with.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Stop interrupts ffmpeg, killing it if it does not exit within the grace period.
func (f *FFmpeg) Stop() error {
	f.mu.Lock()
	p := f.cur
	f.mu.Unlock()
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}

	p.stopped.Store(true)
	p.cancel()
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.done:
	case <-time.After(stopGrace):
		f.logger.Warn("ffmpeg did not exit, killing", zap.Int("pid", p.cmd.Process.Pid))
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill ffmpeg: %w", err)
		}
		<-p.done
	}
	return nil
}

// Dimensions returns the output frame size once ffmpeg has announced it.
func (f *FFmpeg) Dimensions() (Dimensions, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dims, f.dimsKnown
}
