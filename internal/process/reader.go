package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/sys/unix"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	readChunkSize = 4096
	pollTimeoutMs = 100
)

// run is one spawned child and the terminal attached to it. A Controller
// creates a new run per Start so a late reader from a previous child never
// touches the current one.
type run struct {
	cmd  *exec.Cmd
	ptmx *os.File
	fd   int
	pid  int

	// broken is set when a terminal write fails; the run then reports
	// not running even if the child has not exited yet.
	broken atomic.Bool
	reaped bool // guarded by Controller.mu

	stop       chan struct{}
	stopOnce   sync.Once
	readerDone chan struct{}

	// handshakeDone is closed once the first-run script has finished or
	// given up. Input waits on it.
	handshakeDone chan struct{}
}

func newRun(cmd *exec.Cmd, ptmx *os.File) *run {
	r := &run{
		cmd:           cmd,
		ptmx:          ptmx,
		fd:            int(ptmx.Fd()),
		pid:           cmd.Process.Pid,
		stop:          make(chan struct{}),
		readerDone:    make(chan struct{}),
		handshakeDone: make(chan struct{}),
	}
	return r
}

// reap collects the child's exit status and reports whether it has exited.
// With block set it waits for the exit. Caller holds Controller.mu.
func (r *run) reap(block bool) bool {
	if r.reaped {
		return true
	}
	flags := unix.WNOHANG
	if block {
		flags = 0
	}
	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(r.pid, &ws, flags, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || pid == r.pid {
			// ECHILD means someone else reaped it; either way it is gone.
			r.reaped = true
			return true
		}
		return false
	}
}

// running reports whether the child is alive and its terminal usable.
// Caller holds Controller.mu.
func (r *run) running() bool {
	return !r.broken.Load() && !r.reap(false)
}

func (r *run) halt() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// release stops the reader and closes the terminal. The child must already
// be reaped.
func (r *run) release() {
	r.halt()
	<-r.readerDone
	_ = r.ptmx.Close()
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Release()
	}
}

// readLoop copies terminal output into the controller until the run is
// halted or the descriptor stops being readable.
func (c *Controller) readLoop(r *run) {
	defer close(r.readerDone)

	dec := newDecoder()
	buf := make([]byte, readChunkSize)
	fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		fds[0].Revents = 0
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			c.logger.Debug("terminal poll failed", "pid", r.pid, "error", err)
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			// Hangup or invalid descriptor with nothing left to read.
			return
		}

		m, err := unix.Read(r.fd, buf)
		if m > 0 {
			c.appendOutput(dec.decode(buf[:m]))
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			// EIO once the slave side is gone.
			return
		}
		if m == 0 {
			return
		}
	}
}

// decoder converts raw terminal bytes to valid UTF-8. Invalid sequences
// become U+FFFD; an incomplete rune at the end of a chunk is held back
// until the next chunk completes it.
type decoder struct {
	t     transform.Transformer
	carry []byte
}

func newDecoder() *decoder {
	return &decoder{t: unicode.UTF8.NewDecoder()}
}

func (d *decoder) decode(chunk []byte) string {
	src := make([]byte, 0, len(d.carry)+len(chunk))
	src = append(src, d.carry...)
	src = append(src, chunk...)
	d.carry = nil

	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	var out []byte
	for len(src) > 0 {
		nDst, nSrc, err := d.t.Transform(dst, src, false)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]
		if errors.Is(err, transform.ErrShortSrc) {
			d.carry = append(d.carry, src...)
			break
		}
		if err != nil && !errors.Is(err, transform.ErrShortDst) {
			break
		}
		if nSrc == 0 && nDst == 0 {
			break
		}
	}
	return string(out)
}
