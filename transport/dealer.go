// Package transport provides the identity-routed message socket connecting
// clients and volume workers to the spatial scheduler
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrRecvTimeout = errors.New("transport: receive timed out")

// Dealer is the client/worker end of the socket: one long-lived connection
// to the router, introduced by an identity handshake. A dedicated goroutine
// drains the connection so that a receive timeout never leaves a frame
// half-consumed. Send and Recv may be used from different goroutines.
type Dealer struct {
	conn    net.Conn
	id      []byte
	wmu     sync.Mutex
	rxCh    chan []byte
	die     chan struct{}
	dieOnce sync.Once
	rerr    error // read-loop exit cause; valid once die is closed
}

// Dial connects to the router at addr and performs the identity handshake.
func Dial(addr string, identity []byte) (*Dealer, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial router at %s", addr)
	}
	if err := sendHandshake(conn, identity); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "handshake failed")
	}
	d := &Dealer{
		conn: conn,
		id:   identity,
		rxCh: make(chan []byte, 64),
		die:  make(chan struct{}),
	}
	go d.recvLoop()
	return d, nil
}

// DialRetry keeps dialing until the router is up or the deadline passes -
// workers may start before the scheduler has bound its socket.
func DialRetry(addr string, identity []byte, timeout time.Duration) (*Dealer, error) {
	deadline := time.Now().Add(timeout)
	for {
		d, err := Dial(addr, identity)
		if err == nil {
			return d, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (d *Dealer) Identity() []byte { return d.id }

func (d *Dealer) Send(payload []byte) error {
	select {
	case <-d.die:
		return d.exitErr()
	default:
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()
	return writeFrame(d.conn, payload)
}

// Recv blocks for the next inbound payload; a non-positive timeout blocks
// forever. Returns ErrRecvTimeout on expiry - the connection stays usable
// and late frames remain readable by subsequent calls.
func (d *Dealer) Recv(timeout time.Duration) ([]byte, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case b := <-d.rxCh:
		return b, nil
	case <-timer:
		return nil, ErrRecvTimeout
	case <-d.die:
		// drain what the read loop buffered before it exited
		select {
		case b := <-d.rxCh:
			return b, nil
		default:
			return nil, d.exitErr()
		}
	}
}

func (d *Dealer) Close() error {
	d.dieOnce.Do(func() {
		d.rerr = ErrClosed
		close(d.die)
	})
	return d.conn.Close()
}

func (d *Dealer) recvLoop() {
	rd := bufio.NewReader(d.conn)
	for {
		b, err := readFrame(rd)
		if err != nil {
			d.dieOnce.Do(func() {
				d.rerr = err
				close(d.die)
			})
			return
		}
		select {
		case d.rxCh <- b:
		case <-d.die:
			return
		}
	}
}

func (d *Dealer) exitErr() error {
	if d.rerr != nil {
		return d.rerr
	}
	return ErrClosed
}
