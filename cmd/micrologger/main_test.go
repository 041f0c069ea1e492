package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/audit"
	"github.com/fyrsmithlabs/micrologger/internal/auth"
	"github.com/fyrsmithlabs/micrologger/internal/config"
	"github.com/fyrsmithlabs/micrologger/internal/store"
)

func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	dir := t.TempDir()
	t.Setenv("MICROLOGGER_SERVER_HOST", "127.0.0.1")
	t.Setenv("MICROLOGGER_SERVER_HTTP_PORT", strconv.Itoa(port))
	t.Setenv("MICROLOGGER_DATABASE_PATH", filepath.Join(dir, "micrologger.db"))
	t.Setenv("MICROLOGGER_AUTH_BOOTSTRAP_ADMIN", "admin")
	t.Setenv("MICROLOGGER_AUTH_BOOTSTRAP_PASSWORD", "admin-pass-1")
	t.Setenv("MICROLOGGER_APP_TIMEZONE", "UTC")
	t.Setenv("HOME", dir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, "") }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, Path: filepath.Join(t.TempDir(), "b.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := auth.NewService(st, auth.NewLockout(5, time.Minute), audit.NewRecorder(st, nil), nil)
	require.NoError(t, err)

	require.NoError(t, bootstrapAdmin(ctx, svc, config.AuthConfig{BootstrapAdmin: "admin"}, zap.NewNop()))
	n, err := st.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no password, no account")

	cfg := config.AuthConfig{BootstrapAdmin: "admin", BootstrapPassword: config.Secret("admin-pass-1")}
	require.NoError(t, bootstrapAdmin(ctx, svc, cfg, zap.NewNop()))
	require.NoError(t, bootstrapAdmin(ctx, svc, cfg, zap.NewNop()))

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, auth.RoleAdmin, users[0].Role)
}
