package e2e

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"alertdesk/internal/app"
	"alertdesk/internal/clock"
	"alertdesk/internal/config"
	"alertdesk/internal/httpapi"
)

// newServiceFromConfig creates Service from a config file path for e2e scenarios.
// Params: test handle and absolute config path.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, path string) *app.Service {
	t.Helper()

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	service, err := app.NewService(cfg, clock.RealClock{}, buildHTTP, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// buildHTTP wires the API router the same way the binary does.
// Params: dependency bundle from the service.
// Returns: gin router as the server handler.
func buildHTTP(deps app.HTTPDeps) http.Handler {
	auth := httpapi.NewAuthenticator(deps.Config.HTTP, deps.Config.TokenTTL(), deps.Clock)
	server := httpapi.NewServer(auth, deps.Alerts, deps.Rules, deps.Dashboard, deps.Sweeps, deps.Runner, deps.Ready, deps.Log)
	return server.Router()
}

// runService starts service in background with a cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with the Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for the /readyz endpoint to return 200.
// Params: test handle and HTTP port.
// Returns: service is ready or test fails on timeout.
func waitReady(t *testing.T, port int) {
	t.Helper()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitFor(t, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
// Params: test handle and done channel returned by runService.
// Returns: test fails if stop timeout/error happens.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

func freePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}
