package strategy

import (
	"context"
	"errors"
	"testing"

	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/internal/logging"
	"tradebot/internal/marketctx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStrategy is a minimal strategy for registry and engine tests
type stubStrategy struct {
	id        string
	initErr   error
	onTick    func(tick core.Tick) ([]core.Signal, error)
	fills     int
	positions int
	shutdowns int
}

func (s *stubStrategy) Name() string                             { return s.id }
func (s *stubStrategy) Init(params map[string]interface{}) error { return s.initErr }
func (s *stubStrategy) OnOrderFilled(core.Order)                 { s.fills++ }
func (s *stubStrategy) OnPositionUpdate(core.Position)           { s.positions++ }
func (s *stubStrategy) State() map[string]interface{}            { return map[string]interface{}{"id": s.id} }
func (s *stubStrategy) Shutdown() error                          { s.shutdowns++; return nil }

func (s *stubStrategy) OnMarketData(ctx context.Context, snap *marketctx.Snapshot, tick core.Tick) ([]core.Signal, error) {
	if s.onTick != nil {
		return s.onTick(tick)
	}
	return nil, nil
}

func stubFactory(strat *stubStrategy) Factory {
	return func(id string, symbols []string, logger core.ILogger) Strategy {
		strat.id = id
		return strat
	}
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry()
	strat := &stubStrategy{}
	require.NoError(t, reg.Register("stub", ConfigSchema{
		{Name: "period", Type: ParamInt, Required: true},
	}, stubFactory(strat)))

	created, err := reg.Create(config.StrategyConfig{
		ID:      "stub-1",
		Type:    "stub",
		Symbols: []string{"BTCUSDT"},
		Params:  map[string]interface{}{"period": 10},
	}, logging.GetGlobalLogger())
	require.NoError(t, err)
	assert.Equal(t, "stub-1", created.Name())
}

func TestRegistryDuplicateType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("stub", nil, stubFactory(&stubStrategy{})))
	assert.Error(t, reg.Register("stub", nil, stubFactory(&stubStrategy{})))
}

func TestRegistryUnknownType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create(config.StrategyConfig{
		ID: "x", Type: "nope", Symbols: []string{"BTCUSDT"},
	}, logging.GetGlobalLogger())
	assert.Error(t, err)
}

func TestRegistrySchemaViolationBlocksCreate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("stub", ConfigSchema{
		{Name: "period", Type: ParamInt, Required: true},
	}, stubFactory(&stubStrategy{})))

	_, err := reg.Create(config.StrategyConfig{
		ID:      "stub-1",
		Type:    "stub",
		Symbols: []string{"BTCUSDT"},
		Params:  map[string]interface{}{},
	}, logging.GetGlobalLogger())

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRegistryInitFailureBlocksCreate(t *testing.T) {
	reg := NewRegistry()
	strat := &stubStrategy{initErr: errors.New("bad params")}
	require.NoError(t, reg.Register("stub", nil, stubFactory(strat)))

	_, err := reg.Create(config.StrategyConfig{
		ID: "stub-1", Type: "stub", Symbols: []string{"BTCUSDT"},
	}, logging.GetGlobalLogger())
	assert.ErrorContains(t, err, "bad params")
}

func TestRegistryRequiresSymbols(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("stub", nil, stubFactory(&stubStrategy{})))

	_, err := reg.Create(config.StrategyConfig{ID: "stub-1", Type: "stub"}, logging.GetGlobalLogger())
	assert.ErrorContains(t, err, "no symbols")
}
