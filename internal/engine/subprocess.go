package engine

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/visiona/framesynth/internal/frame"
)

// SubprocessConfig configures the out-of-process engine bridge.
type SubprocessConfig struct {
	// Command is the engine launcher (typically a wrapper script that
	// activates the runtime environment).
	Command string

	// ModelPath is the resolved model directory, passed to the engine.
	ModelPath string

	// GPU is the device ID the engine should bind.
	GPU int

	// GPUThreads is the engine-side upload/compute queue depth. The gate
	// above this adapter enforces the same bound on the Go side.
	GPUThreads int

	// TTA enables test-time augmentation (v1/v2 families only).
	TTA bool

	// UHD enables the half-resolution flow estimation path.
	UHD bool
}

// Subprocess drives a neural interpolation engine running as a child
// process, speaking length-prefixed MsgPack over stdin/stdout: 4 bytes of
// big-endian payload length, then the payload. Requests carry a unique ID;
// responses are matched back to their waiting Blend call, so up to
// GPUThreads calls can be in flight at once over the single pipe.
//
// Lifecycle: New → Start → Blend (concurrently) → Close.
type Subprocess struct {
	cfg SubprocessConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// writeMu serializes framed writes; interleaved frames would corrupt
	// the stream.
	writeMu sync.Mutex

	pendMu  sync.Mutex
	pending map[string]chan blendReply

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

type blendRequest struct {
	ID       string  `msgpack:"id"`
	Width    int     `msgpack:"width"`
	Height   int     `msgpack:"height"`
	Timestep float64 `msgpack:"timestep"`
	R0       []byte  `msgpack:"r0"`
	G0       []byte  `msgpack:"g0"`
	B0       []byte  `msgpack:"b0"`
	R1       []byte  `msgpack:"r1"`
	G1       []byte  `msgpack:"g1"`
	B1       []byte  `msgpack:"b1"`
}

type blendReply struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"error"`
	R     []byte `msgpack:"r"`
	G     []byte `msgpack:"g"`
	B     []byte `msgpack:"b"`
}

// NewSubprocess creates the bridge without starting the child process.
func NewSubprocess(cfg SubprocessConfig) *Subprocess {
	return &Subprocess{
		cfg:     cfg,
		pending: make(map[string]chan blendReply),
	}
}

// Start spawns the engine process and its reader goroutines.
func (e *Subprocess) Start(ctx context.Context) error {
	if e.started.Load() {
		return fmt.Errorf("engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	args := []string{
		"--model", e.cfg.ModelPath,
		"--gpu", strconv.Itoa(e.cfg.GPU),
		"--threads", strconv.Itoa(e.cfg.GPUThreads),
	}
	if e.cfg.TTA {
		args = append(args, "--tta")
	}
	if e.cfg.UHD {
		args = append(args, "--uhd")
	}
	e.cmd = exec.CommandContext(e.ctx, e.cfg.Command, args...)

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	e.stdin = stdin

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	e.stdout = stdout

	stderr, err := e.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	e.stderr = stderr

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start engine process: %w", err)
	}
	e.started.Store(true)

	slog.Info("engine process spawned",
		"command", e.cfg.Command,
		"model", e.cfg.ModelPath,
		"gpu", e.cfg.GPU,
		"gpu_threads", e.cfg.GPUThreads,
		"pid", e.cmd.Process.Pid,
	)

	e.wg.Add(1)
	go e.readReplies()

	e.wg.Add(1)
	go e.logStderr()

	e.wg.Add(1)
	go e.waitProcess()

	return nil
}

// Blend sends one interpolation request and waits for its reply. Safe for
// concurrent use; the caller's concurrency gate bounds how many requests
// are in flight.
func (e *Subprocess) Blend(a, b *frame.Frame, timestep float32) (*frame.Frame, error) {
	if !e.started.Load() || e.closed.Load() {
		return nil, fmt.Errorf("engine not running")
	}

	id := uuid.New().String()
	reply := make(chan blendReply, 1)

	e.pendMu.Lock()
	e.pending[id] = reply
	e.pendMu.Unlock()
	defer func() {
		e.pendMu.Lock()
		delete(e.pending, id)
		e.pendMu.Unlock()
	}()

	req := blendRequest{
		ID:       id,
		Width:    a.Width,
		Height:   a.Height,
		Timestep: float64(timestep),
		R0:       frame.PlaneBytes(a.R),
		G0:       frame.PlaneBytes(a.G),
		B0:       frame.PlaneBytes(a.B),
		R1:       frame.PlaneBytes(b.R),
		G1:       frame.PlaneBytes(b.G),
		B1:       frame.PlaneBytes(b.B),
	}
	payload, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blend request: %w", err)
	}

	if err := e.writeFrame(payload); err != nil {
		return nil, err
	}

	select {
	case res := <-reply:
		if res.Error != "" {
			return nil, fmt.Errorf("engine: %s", res.Error)
		}
		out := &frame.Frame{
			Width:  a.Width,
			Height: a.Height,
			R:      frame.PlaneFromBytes(res.R),
			G:      frame.PlaneFromBytes(res.G),
			B:      frame.PlaneFromBytes(res.B),
		}
		if len(out.R) != a.Width*a.Height {
			return nil, fmt.Errorf("engine returned short plane: got %d samples, want %d",
				len(out.R), a.Width*a.Height)
		}
		return out, nil
	case <-e.ctx.Done():
		return nil, fmt.Errorf("engine shut down while blending: %w", e.ctx.Err())
	}
}

// writeFrame writes one length-prefixed payload under the write mutex.
func (e *Subprocess) writeFrame(payload []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := e.stdin.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := e.stdin.Write(payload); err != nil {
		return fmt.Errorf("failed to write request payload: %w", err)
	}
	return nil
}

// readReplies reads framed replies from the engine's stdout and dispatches
// them to the Blend call that owns the matching request ID.
func (e *Subprocess) readReplies() {
	defer e.wg.Done()

	var lengthBuf [4]byte
	for {
		if _, err := io.ReadFull(e.stdout, lengthBuf[:]); err != nil {
			if err != io.EOF {
				slog.Error("failed to read reply length from engine", "error", err)
			}
			e.failPending(fmt.Errorf("engine stream closed: %w", err))
			return
		}
		payload := make([]byte, binary.BigEndian.Uint32(lengthBuf[:]))
		if _, err := io.ReadFull(e.stdout, payload); err != nil {
			slog.Error("failed to read reply payload from engine",
				"error", err,
				"expected_length", len(payload),
			)
			e.failPending(fmt.Errorf("engine stream truncated: %w", err))
			return
		}

		var res blendReply
		if err := msgpack.Unmarshal(payload, &res); err != nil {
			slog.Error("failed to unmarshal engine reply",
				"error", err,
				"payload_length", len(payload),
				"action", "check engine stderr output",
			)
			continue
		}

		e.pendMu.Lock()
		ch, ok := e.pending[res.ID]
		e.pendMu.Unlock()
		if !ok {
			slog.Warn("engine reply for unknown request", "id", res.ID)
			continue
		}
		ch <- res
	}
}

// failPending delivers a terminal error to every waiting Blend call.
func (e *Subprocess) failPending(err error) {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	for id, ch := range e.pending {
		select {
		case ch <- blendReply{ID: id, Error: err.Error()}:
		default:
		}
		delete(e.pending, id)
	}
}

// logStderr maps engine stderr lines into the structured log.
func (e *Subprocess) logStderr() {
	defer e.wg.Done()

	scanner := bufio.NewScanner(e.stderr)
	for scanner.Scan() {
		slog.Debug("engine stderr", "line", scanner.Text())
	}
}

// waitProcess reaps the child so an engine crash surfaces immediately
// instead of leaving a zombie behind.
func (e *Subprocess) waitProcess() {
	defer e.wg.Done()

	err := e.cmd.Wait()
	if err != nil && e.ctx.Err() == nil {
		slog.Error("engine process exited unexpectedly", "error", err)
		e.failPending(fmt.Errorf("engine process exited: %w", err))
		return
	}
	slog.Debug("engine process exited", "error", err)
}

// Close shuts down the engine process and fails any in-flight Blend calls.
// Idempotent.
func (e *Subprocess) Close() error {
	if !e.started.Load() || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()
	_ = e.stdin.Close()
	e.wg.Wait()
	e.failPending(fmt.Errorf("engine closed"))
	return nil
}
