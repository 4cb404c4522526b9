//go:build linux

// Package hostline adapts a Linux terminal device (a real serial port or a
// pty) to bufserial.Line. A poll goroutine plays the part of the interrupt
// layer: POLLIN and POLLOUT readiness invoke whichever handlers are attached,
// and detaching the TX handler simply removes POLLOUT interest — the same
// arming mechanism the hardware backends express through interrupt masks.
package hostline

import (
	"fmt"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Config holds the parameters for opening a device.
type Config struct {
	Device   string
	BaudRate int // 0 selects 115200
}

// Line is a bufserial.Line over a file descriptor in raw termios mode.
type Line struct {
	fd int

	mu        sync.Mutex
	rxHandler func()
	txHandler func()

	pipeR, pipeW int // self-pipe: wakes the poll loop on attach/close
	done         chan struct{}
	closeOnce    sync.Once
}

// Open opens the device, puts it in raw non-blocking mode at the configured
// baud rate, and starts the poll loop.
func Open(cfg Config) (*Line, error) {
	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	if err := configureRaw(fd, cfg.BaudRate); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	l := &Line{
		fd:    fd,
		pipeR: pipeFds[0],
		pipeW: pipeFds[1],
		done:  make(chan struct{}),
	}
	go l.pollLoop()
	return l, nil
}

func configureRaw(fd int, baud int) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode.
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baudToUnix(baud)

	// Immediate reads; the fd stays non-blocking.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// ---------------- bufserial.Line implementation ----------------

// RxReady reports whether a read would return data right now.
func (l *Line) RxReady() bool {
	pfd := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, 0)
	return err == nil && n > 0 && pfd[0].Revents&unix.POLLIN != 0
}

// ReadByte reads one byte. On an empty device it returns 0, matching the
// contract that callers check RxReady first.
func (l *Line) ReadByte() byte {
	var b [1]byte
	n, err := unix.Read(l.fd, b[:])
	if err != nil || n == 0 {
		return 0
	}
	return b[0]
}

// TxReady reports whether a write would be accepted right now.
func (l *Line) TxReady() bool {
	pfd := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(pfd, 0)
	return err == nil && n > 0 && pfd[0].Revents&unix.POLLOUT != 0
}

// WriteByte writes one byte. A byte the kernel refuses (full buffer on a
// stalled line) is dropped, as a hardware register write would be; callers
// check TxReady first.
func (l *Line) WriteByte(b byte) {
	buf := [1]byte{b}
	unix.Write(l.fd, buf[:])
}

func (l *Line) AttachRx(fn func()) {
	l.mu.Lock()
	l.rxHandler = fn
	l.mu.Unlock()
	l.kick()
}

func (l *Line) AttachTx(fn func()) {
	l.mu.Lock()
	l.txHandler = fn
	l.mu.Unlock()
	l.kick()
}

// SetBaudRate implements bufserial.BaudSetter.
func (l *Line) SetBaudRate(br uint32) {
	termios, err := unix.IoctlGetTermios(l.fd, unix.TCGETS)
	if err != nil {
		return
	}
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baudToUnix(int(br))
	unix.IoctlSetTermios(l.fd, unix.TCSETS, termios)
}

// Close stops the poll loop and releases the descriptor. Safe to call
// multiple times.
func (l *Line) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.kick()
		err = syscall.Close(l.fd)
		unix.Close(l.pipeR)
		unix.Close(l.pipeW)
	})
	return err
}

// ---------------- poll loop ("interrupt layer") ----------------

// kick wakes the poll loop so it re-evaluates handler interest.
func (l *Line) kick() {
	buf := [1]byte{1}
	unix.Write(l.pipeW, buf[:])
}

func (l *Line) pollLoop() {
	for {
		l.mu.Lock()
		var events int16
		if l.rxHandler != nil {
			events |= unix.POLLIN
		}
		if l.txHandler != nil {
			events |= unix.POLLOUT
		}
		l.mu.Unlock()

		pfd := []unix.PollFd{
			{Fd: int32(l.fd), Events: events},
			{Fd: int32(l.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		select {
		case <-l.done:
			return
		default:
		}

		if pfd[1].Revents&unix.POLLIN != 0 {
			var drain [16]byte
			unix.Read(l.pipeR, drain[:]) // interest changed; re-poll
			continue
		}

		if pfd[0].Revents&unix.POLLIN != 0 {
			l.mu.Lock()
			fn := l.rxHandler
			l.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
		if pfd[0].Revents&unix.POLLOUT != 0 {
			l.mu.Lock()
			fn := l.txHandler
			l.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
		if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 &&
			pfd[0].Revents&unix.POLLIN == 0 {
			// Device gone and nothing left to read.
			return
		}
	}
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	default:
		return unix.B115200
	}
}
