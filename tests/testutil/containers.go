package testutil

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

const (
	containerStartupTimeout = 120 * time.Second
	cleanupTimeout          = 10 * time.Second
	pingAttempts            = 5
	pingRetryDelay          = 500 * time.Millisecond
)

// sharedContainer starts one container per test binary on first use. Ryuk
// removes it when the binary exits.
type sharedContainer struct {
	name string
	port string
	req  testcontainers.ContainerRequest

	once sync.Once
	cont testcontainers.Container
	addr string
	err  error
}

func newSharedContainer(name, port string, req testcontainers.ContainerRequest) *sharedContainer {
	req.ExposedPorts = []string{port + "/tcp"}
	return &sharedContainer{name: name, port: port, req: req}
}

// Address returns host:port of the container, starting it if needed.
func (s *sharedContainer) Address(ctx context.Context) (string, error) {
	s.once.Do(func() {
		startCtx, cancel := context.WithTimeout(ctx, containerStartupTimeout)
		defer cancel()

		cont, err := testcontainers.GenericContainer(startCtx, testcontainers.GenericContainerRequest{
			ContainerRequest: s.req,
			Started:          true,
		})
		if err != nil {
			s.err = fmt.Errorf("failed to start %s container: %w", s.name, err)
			return
		}
		s.cont = cont

		host, err := cont.Host(startCtx)
		if err != nil {
			s.err = fmt.Errorf("failed to get %s host: %w", s.name, err)
			return
		}
		mapped, err := cont.MappedPort(startCtx, nat.Port(s.port))
		if err != nil {
			s.err = fmt.Errorf("failed to get %s port: %w", s.name, err)
			return
		}
		s.addr = net.JoinHostPort(host, mapped.Port())
	})
	return s.addr, s.err
}

// retryPing calls ping until it succeeds or attempts run out.
func retryPing(ping func(ctx context.Context) error) error {
	var err error
	for i := range pingAttempts {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = ping(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if i < pingAttempts-1 {
			time.Sleep(pingRetryDelay)
		}
	}
	return fmt.Errorf("no answer after %d attempts: %w", pingAttempts, err)
}
