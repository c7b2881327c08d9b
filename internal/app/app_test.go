package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/cache/local"
	"github.com/alanyoungcy/escrowbot/internal/config"
	"github.com/alanyoungcy/escrowbot/internal/crypto"
	"github.com/alanyoungcy/escrowbot/internal/fee"
	"github.com/alanyoungcy/escrowbot/internal/service"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Redis.Addr = ""
	cfg.Server.Port = 0
	cfg.Server.JWTSecret = strings.Repeat("j", 32)
	cfg.Server.ActionSecret = "buttons"
	return &cfg
}

func TestWireMemoryWithoutRedis(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.UoW)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.RateLimiter)
	assert.IsType(t, &local.Bus{}, deps.SignalBus)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Health)
	assert.NotNil(t, deps.Metrics)
}

func TestConfigDefaultsMatchServiceDefaults(t *testing.T) {
	e := config.Defaults().Escrow

	got, want := FeeSchedule(e), fee.Default()
	assert.True(t, want.Threshold.Equal(got.Threshold))
	assert.True(t, want.Flat.Equal(got.Flat))
	assert.True(t, want.Rate.Equal(got.Rate))

	l, dl := Limits(e), service.DefaultLimits()
	assert.True(t, dl.DealMin.Equal(l.DealMin))
	assert.True(t, dl.DealMax.Equal(l.DealMax))
	assert.True(t, dl.DepositMin.Equal(l.DepositMin))
	assert.True(t, dl.DepositMax.Equal(l.DepositMax))
	assert.True(t, dl.WithdrawalMin.Equal(l.WithdrawalMin))
	assert.Equal(t, dl.TitleMax, l.TitleMax)
	assert.Equal(t, dl.AddressMin, l.AddressMin)
	assert.Equal(t, dl.AddressMax, l.AddressMax)
}

func TestNewServicesShareOneStore(t *testing.T) {
	cfg := memoryConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	svc := NewServices(cfg, deps, &crypto.ActionSigner{Secret: "s"}, quietLogger())
	ctx := context.Background()
	_, created, err := svc.Accounts.Register(ctx, 1, "admin", "Admin")
	require.NoError(t, err)
	require.True(t, created)

	acct, err := svc.Accounts.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acct.IsAdmin)
}

func TestRunServerModeStopsOnCancel(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "server"
	a := New(cfg, quietLogger())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestRunFailsWithoutJWTSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "server"
	cfg.Server.JWTSecret = ""
	a := New(cfg, quietLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt secret")
}

func TestArchiveModeNeedsArchiver(t *testing.T) {
	a := New(memoryConfig(), quietLogger())
	err := a.ArchiveMode(context.Background(), &Dependencies{})
	assert.Error(t, err)
}
