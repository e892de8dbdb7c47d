// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"golang.org/x/sys/unix"
)

const (
	udpSocketBufferSize = 1024 * 1024 * 16 // 16MB
	receiveMTU          = 1460
)

// listenUDP opens count sockets bound to the same address so that the
// kernel spreads the incoming traffic among them.
func listenUDP(log mlog.LoggerIFace, address string, count int) ([]net.PacketConn, error) {
	listenConfig := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var optErr error
			err := c.Control(func(fd uintptr) {
				if optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); optErr != nil {
					return
				}
				optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return optErr
		},
	}

	conns := make([]net.PacketConn, 0, count)
	for i := 0; i < count; i++ {
		conn, err := listenConfig.ListenPacket(context.Background(), "udp4", address)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return nil, fmt.Errorf("failed to listen on udp: %w", err)
		}

		if udpConn, ok := conn.(*net.UDPConn); ok {
			if err := udpConn.SetWriteBuffer(udpSocketBufferSize); err != nil {
				log.Warn("rtc: failed to set udp send buffer", mlog.Err(err))
			}
			if err := udpConn.SetReadBuffer(udpSocketBufferSize); err != nil {
				log.Warn("rtc: failed to set udp receive buffer", mlog.Err(err))
			}
		}

		conns = append(conns, conn)
	}

	log.Info(fmt.Sprintf("rtc: server is listening on udp %s", address), mlog.Int("sockets", count))

	return conns, nil
}

// multiConn merges several packet conns into one. Reads are served from
// whichever socket has data, writes are spread round robin.
type multiConn struct {
	conns   []net.PacketConn
	readCh  chan readResult
	closeCh chan struct{}
	bufPool sync.Pool
	counter uint64
	wg      sync.WaitGroup
}

type readResult struct {
	n    int
	addr net.Addr
	err  error
	buf  []byte
}

func newMultiConn(conns []net.PacketConn) (*multiConn, error) {
	if len(conns) == 0 {
		return nil, errors.New("conns should not be empty")
	}
	for _, conn := range conns {
		if conn == nil {
			return nil, errors.New("invalid nil conn")
		}
	}

	mc := &multiConn{
		conns:   conns,
		readCh:  make(chan readResult, len(conns)*2),
		closeCh: make(chan struct{}),
		bufPool: sync.Pool{
			New: func() interface{} {
				return make([]byte, receiveMTU)
			},
		},
	}

	mc.wg.Add(len(conns))
	for _, conn := range conns {
		go mc.reader(conn)
	}

	return mc, nil
}

func (mc *multiConn) reader(conn net.PacketConn) {
	defer mc.wg.Done()
	for {
		res := readResult{buf: mc.bufPool.Get().([]byte)}
		res.n, res.addr, res.err = conn.ReadFrom(res.buf)
		select {
		case mc.readCh <- res:
		case <-mc.closeCh:
			return
		}
		if res.err != nil && !os.IsTimeout(res.err) {
			return
		}
	}
}

func (mc *multiConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case res := <-mc.readCh:
		n := copy(p, res.buf[:res.n])
		mc.bufPool.Put(res.buf)
		return n, res.addr, res.err
	case <-mc.closeCh:
		return 0, nil, net.ErrClosed
	}
}

func (mc *multiConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	idx := (atomic.AddUint64(&mc.counter, 1) - 1) % uint64(len(mc.conns))
	return mc.conns[idx].WriteTo(p, addr)
}

func (mc *multiConn) Close() error {
	select {
	case <-mc.closeCh:
		return nil
	default:
	}
	close(mc.closeCh)

	var err error
	for _, conn := range mc.conns {
		err = errors.Join(err, conn.Close())
	}
	mc.wg.Wait()

	return err
}

func (mc *multiConn) LocalAddr() net.Addr {
	return mc.conns[0].LocalAddr()
}

func (mc *multiConn) SetDeadline(t time.Time) error {
	var err error
	for _, conn := range mc.conns {
		err = errors.Join(err, conn.SetDeadline(t))
	}
	return err
}

func (mc *multiConn) SetReadDeadline(t time.Time) error {
	var err error
	for _, conn := range mc.conns {
		err = errors.Join(err, conn.SetReadDeadline(t))
	}
	return err
}

func (mc *multiConn) SetWriteDeadline(t time.Time) error {
	var err error
	for _, conn := range mc.conns {
		err = errors.Join(err, conn.SetWriteDeadline(t))
	}
	return err
}
