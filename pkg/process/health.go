package process

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/modctl/modctl/pkg/engine"
	"github.com/modctl/modctl/pkg/telemetry"
)

// probe reports nil once the service is ready.
type probe func(ctx context.Context) error

// healthProbe picks the probe for svc: the declared HTTP, TCP or command
// check, else a TCP dial of the declared port. Nil means the process being
// alive is enough. Command checks run with env, the environment the service
// was started with.
func (m *Manager) healthProbe(svc *engine.Service, env map[string]string) probe {
	hc := svc.Spec.HealthCheck
	switch {
	case hc != nil && hc.HTTP != "":
		return m.httpProbe(hc.HTTP)
	case hc != nil && hc.TCP != "":
		return tcpProbe(hc.TCP)
	case hc != nil && hc.Command != "":
		return m.commandProbe(svc, hc.Command, env)
	case svc.Spec.Port > 0:
		return tcpProbe(net.JoinHostPort("localhost", strconv.Itoa(svc.Spec.Port)))
	default:
		return nil
	}
}

func (m *Manager) httpProbe(url string) probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := m.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 400 {
			return fmt.Errorf("GET %s returned %s", url, resp.Status)
		}
		return nil
	}
}

func tcpProbe(addr string) probe {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

func (m *Manager) commandProbe(svc *engine.Service, command string, env map[string]string) probe {
	var dir string
	if svc.Module != nil {
		dir = svc.Module.Dir
	}
	return func(ctx context.Context) error {
		_, err := m.Exec(ctx, &ExecParams{
			Command: command,
			WorkDir: dir,
			Env:     env,
			Capture: true,
		})
		return err
	}
}

// waitHealthy polls the health probe of svc until it passes, the process
// exits, or the health timeout elapses.
func (m *Manager) waitHealthy(ctx context.Context, svc *engine.Service, env map[string]string, c *child) error {
	timeout, interval := m.healthTimeout, m.healthInterval
	if hc := svc.Spec.HealthCheck; hc != nil {
		if hc.Timeout > 0 {
			timeout = hc.Timeout
		}
		if hc.Interval > 0 {
			interval = hc.Interval
		}
	}

	check := m.healthProbe(svc, env)
	logPath := m.LogFile(svc.Name)
	logger := telemetry.FromContext(ctx).WithService(svc.Name)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if c.exited() {
			return m.exitedError(svc, c, logPath)
		}
		if check == nil {
			return nil
		}

		probeCtx, probeCancel := context.WithTimeout(waitCtx, interval)
		lastErr = check(probeCtx)
		probeCancel()
		if lastErr == nil {
			return nil
		}
		logger.WithError(lastErr).Trace("Health check not passing yet")

		select {
		case <-c.done:
			return m.exitedError(svc, c, logPath)
		case <-ticker.C:
		case <-waitCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("service %s not healthy after %s: %v (log: %s)", svc.Name, timeout, lastErr, logPath)
		}
	}
}

func (m *Manager) exitedError(svc *engine.Service, c *child, logPath string) error {
	if c.err != nil {
		return fmt.Errorf("service %s exited before becoming healthy: %v (log: %s)", svc.Name, c.err, logPath)
	}
	return fmt.Errorf("service %s exited before becoming healthy (log: %s)", svc.Name, logPath)
}
