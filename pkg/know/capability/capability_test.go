// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/knowctl/knowctl/internal/errors"
	"github.com/knowctl/knowctl/pkg/know/breaker"
	"github.com/knowctl/knowctl/pkg/know/clock"
	"github.com/knowctl/knowctl/pkg/know/eventbus"
	"github.com/knowctl/knowctl/pkg/know/timeout"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry, *clock.Fake) {
	clk := clock.NewFake(time.Now())
	bus := eventbus.New(true)
	reg := NewRegistry()
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), clk, bus)
	tm := timeout.New(timeout.DefaultLevels(), 0, clk)
	return NewDispatcher(reg, breakers, tm, bus), reg, clk
}

func TestRunReturnsBadRequestForUnknownCapability(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.Run(context.Background(), FamilyAnalyzer, "nonexistent", nil, 0)
	require.Error(t, err)
	var ue *ierrors.UserError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ierrors.KindBadRequest, ue.Kind)
}

func TestRunReturnsSuccessResult(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	reg.Register(Descriptor{Name: "echo", Family: FamilyConverter, DefaultTimeoutLevel: timeout.File},
		func(ctx context.Context, input any) (any, error) { return input, nil })

	res, err := d.Run(context.Background(), FamilyConverter, "echo", "hi", 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "hi", res.Value)
}

func TestRunReturnsInvocationErrorOutcome(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	boom := errors.New("boom")
	reg.Register(Descriptor{Name: "fails", Family: FamilyChecker, DefaultTimeoutLevel: timeout.File},
		func(ctx context.Context, input any) (any, error) { return nil, boom })

	res, err := d.Run(context.Background(), FamilyChecker, "fails", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvocationErr, res.Outcome)
	assert.ErrorIs(t, res.Err, boom)
}

func TestRunReturnsTimeoutOutcome(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	reg.Register(Descriptor{Name: "slow", Family: FamilyMonitor, DefaultTimeoutLevel: timeout.Cache},
		func(ctx context.Context, input any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	res, err := d.Run(context.Background(), FamilyMonitor, "slow", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
}

func TestRunReturnsCircuitOpenOutcomeWhenBreakerOpen(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	boom := errors.New("boom")
	reg.Register(Descriptor{Name: "flaky", Family: FamilyGenerator, DefaultTimeoutLevel: timeout.File},
		func(ctx context.Context, input any) (any, error) { return nil, boom })

	cfg := breaker.DefaultConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		_, _ = d.Run(context.Background(), FamilyGenerator, "flaky", nil, 0)
	}

	res, err := d.Run(context.Background(), FamilyGenerator, "flaky", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCircuitOpen, res.Outcome)
}

func TestDescriptorsListsRegisteredCapabilities(t *testing.T) {
	_, reg, _ := newTestDispatcher(t)
	reg.Register(Descriptor{Name: "a", Family: FamilyAnalyzer}, func(ctx context.Context, input any) (any, error) { return nil, nil })
	reg.Register(Descriptor{Name: "b", Family: FamilyChecker}, func(ctx context.Context, input any) (any, error) { return nil, nil })
	assert.Len(t, reg.Descriptors(), 2)
}
