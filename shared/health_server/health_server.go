package health_server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/netio"
)

const (
	CommandSize = 4
	// StatusLengthSize prefixes the STAT reply
	StatusLengthSize = 2
)

// StatusFunc reports the current phase of the process
type StatusFunc func() string

type HealthServer struct {
	port     string
	status   StatusFunc
	listener net.Listener
	stopChan chan bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHealthServer answers PING with PONG and STAT with the value of status
func NewHealthServer(port string, status StatusFunc) *HealthServer {
	if status == nil {
		status = func() string { return "running" }
	}
	return &HealthServer{
		port:     port,
		status:   status,
		stopChan: make(chan bool),
	}
}

func (hs *HealthServer) Start() error {
	listener, err := net.Listen("tcp", ":"+hs.port)
	if err != nil {
		return fmt.Errorf("failed to start health server on port %s: %w", hs.port, err)
	}

	hs.listener = listener
	middleware.LogInfo("Health Server", "Listening on %s", listener.Addr())

	hs.wg.Add(1)
	go hs.acceptConnections()

	return nil
}

// Addr returns the listening address once started
func (hs *HealthServer) Addr() net.Addr {
	if hs.listener == nil {
		return nil
	}
	return hs.listener.Addr()
}

func (hs *HealthServer) acceptConnections() {
	defer hs.wg.Done()
	for {
		select {
		case <-hs.stopChan:
			return
		default:
			hs.listener.(*net.TCPListener).SetDeadline(time.Now().Add(1 * time.Second))
			conn, err := hs.listener.Accept()
			if err != nil {
				if opErr, ok := err.(*net.OpError); ok && opErr.Timeout() {
					continue
				}
				select {
				case <-hs.stopChan:
					return
				default:
					middleware.LogWarn("Health Server", "Error accepting connection: %v", err)
					continue
				}
			}

			hs.wg.Add(1)
			go hs.handleConnection(conn)
		}
	}
}

func (hs *HealthServer) handleConnection(conn net.Conn) {
	defer hs.wg.Done()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, CommandSize)
	if err := netio.ReadFull(conn, buf); err != nil {
		return
	}

	var reply []byte
	switch string(buf) {
	case "PING":
		reply = []byte("PONG")
	case "STAT":
		status := hs.status()
		if len(status) > 0xFFFF {
			status = status[:0xFFFF]
		}
		reply = make([]byte, StatusLengthSize+len(status))
		reply[0] = byte(len(status) >> 8)
		reply[1] = byte(len(status))
		copy(reply[StatusLengthSize:], status)
	default:
		middleware.LogDebug("Health Server", "Unknown command %q", buf)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := netio.WriteAll(conn, reply); err != nil {
		middleware.LogWarn("Health Server", "Failed to reply to %s: %v", buf, err)
	}
}

func (hs *HealthServer) Stop() {
	hs.stopOnce.Do(func() {
		close(hs.stopChan)

		if hs.listener != nil {
			hs.listener.Close()
		}

		hs.wg.Wait()
		middleware.LogInfo("Health Server", "Stopped")
	})
}
