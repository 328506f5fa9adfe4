//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusURL = "http://localhost:8888/"

// startAPIServer runs the api-server sub-command in the background and
// returns a client that talks to its unix socket.
func startAPIServer(t *testing.T, istat *infraStat, logName string) *http.Client {
	t.Helper()

	currdir, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	t.Chdir(istat.Procdir)

	cmd := exec.Command(filepath.Join(currdir, binaryName), "api-server")

	cmdOutPath := filepath.Join(currdir, logName+".log")
	cmdOut, err := os.Create(cmdOutPath)
	require.NoError(t, err, "failed to create a log file")
	t.Cleanup(func() { cmdOut.Close() })

	cmd.Stdout = cmdOut
	cmd.Stderr = cmdOut
	t.Logf("starting an app process. Logs will be saved into %s", cmdOutPath)
	require.NoError(t, cmd.Start(), "could not start command")

	// stop gracefully so that coverprofiles are written
	t.Cleanup(func() {
		_ = syscall.Kill(cmd.Process.Pid, syscall.SIGTERM)
		_ = cmd.Wait()
	})

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return new(net.Dialer).DialContext(ctx, "unix", istat.SocketPath)
			},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: 5 * time.Second,
	}

	require.Eventually(t, func() bool {
		resp, err := client.Get("http://gateway/auth/login")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 10*time.Second, 100*time.Millisecond, "api server did not start")

	return client
}

func TestStatusServer(t *testing.T) {
	ctx := t.Context()

	istat := initInfra(t, "api-server-status")
	defer istat.Close(ctx)

	istat.PreparePostgres(t)
	istat.PrepareConfig(t)

	startAPIServer(t, &istat, "api-server-status")

	tests := []struct {
		name     string
		endpoint string
	}{
		{name: "get version", endpoint: "version"},
		{name: "get readiness", endpoint: "probe/readiness"},
		{name: "get liveness", endpoint: "probe/liveness"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(statusURL + tc.endpoint)
			require.NoError(t, err, "could not send request")
			defer resp.Body.Close()

			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err, "could not read response body")

			t.Logf("response: %s", got)
			assert.True(t, json.Valid(got), "response is not valid json: %s", got)
		})
	}
}

func TestAuthEndpoints(t *testing.T) {
	stores := []struct {
		name    string
		prepare func(*infraStat, *testing.T)
	}{
		{name: "postgres", prepare: (*infraStat).PreparePostgres},
		{name: "valkey", prepare: (*infraStat).PrepareValKey},
	}
	for _, store := range stores {
		t.Run(store.name, func(t *testing.T) {
			ctx := t.Context()
			name := "api-server-" + store.name

			istat := initInfra(t, name)
			defer istat.Close(ctx)

			store.prepare(&istat, t)
			istat.PrepareConfig(t)

			client := startAPIServer(t, &istat, name)

			t.Run("login redirects to the hosted UI", func(t *testing.T) {
				resp, err := client.Get("http://gateway/auth/login?redirect_url=%2Fcourses%2Fintro")
				require.NoError(t, err)
				defer resp.Body.Close()

				require.Equal(t, http.StatusFound, resp.StatusCode)

				location, err := url.Parse(resp.Header.Get("Location"))
				require.NoError(t, err)
				assert.Equal(t, istat.Cfg.IdentityProvider.Domain, location.Host)
				assert.Equal(t, "/oauth2/authorize", location.Path)
				assert.Equal(t, "S256", location.Query().Get("code_challenge_method"))
			})

			t.Run("me without a session is unauthorized", func(t *testing.T) {
				resp, err := client.Get("http://gateway/auth/me")
				require.NoError(t, err)
				defer resp.Body.Close()

				assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
				assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
			})

			t.Run("callback with a forged state is rejected", func(t *testing.T) {
				resp, err := client.Get("http://gateway/auth/callback?code=abc&state=forged")
				require.NoError(t, err)
				defer resp.Body.Close()

				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
				assert.Empty(t, resp.Cookies())
			})

			t.Run("logout clears the cookies", func(t *testing.T) {
				resp, err := client.Post("http://gateway/auth/logout", "", nil)
				require.NoError(t, err)
				defer resp.Body.Close()

				assert.Equal(t, http.StatusFound, resp.StatusCode)
				assert.Len(t, resp.Cookies(), 2)
			})
		})
	}
}
