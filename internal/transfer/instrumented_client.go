package transfer

import (
	"context"

	"github.com/italolelis/mover/internal/telemetry"
)

// InstrumentedEngine wraps an Engine with telemetry.
type InstrumentedEngine struct {
	engine     Engine
	telemetry  *telemetry.Telemetry
	engineName string
}

func NewInstrumentedEngine(engine Engine, tel *telemetry.Telemetry, engineName string) *InstrumentedEngine {
	return &InstrumentedEngine{
		engine:     engine,
		telemetry:  tel,
		engineName: engineName,
	}
}

// InstrumentFactory wraps every engine the factory opens.
func InstrumentFactory(factory EngineFactory, tel *telemetry.Telemetry, engineName string) EngineFactory {
	return func(ctx context.Context, downloadRoot string) (Engine, error) {
		var engine Engine

		err := tel.InstrumentClientOperation(ctx, engineName, "open_session", func(ctx context.Context) error {
			var err error
			engine, err = factory(ctx, downloadRoot)

			return err
		})
		if err != nil {
			return nil, err
		}

		return NewInstrumentedEngine(engine, tel, engineName), nil
	}
}

func (e *InstrumentedEngine) Submit(ctx context.Context, magnetLink string, opts SubmitOptions) (Handle, error) {
	var result Handle

	err := e.telemetry.InstrumentClientOperation(ctx, e.engineName, "submit", func(ctx context.Context) error {
		var err error
		result, err = e.engine.Submit(ctx, magnetLink, opts)

		return err
	})
	if err != nil {
		return nil, err
	}

	return &instrumentedHandle{Handle: result, telemetry: e.telemetry, engineName: e.engineName}, nil
}

func (e *InstrumentedEngine) Close() error {
	return e.engine.Close()
}

type instrumentedHandle struct {
	Handle

	telemetry  *telemetry.Telemetry
	engineName string
}

func (h *instrumentedHandle) WaitUntilCompleted(ctx context.Context) error {
	return h.telemetry.InstrumentTransfer(ctx, h.engineName, func(ctx context.Context) (int64, error) {
		err := h.Handle.WaitUntilCompleted(ctx)

		return h.Handle.Stats().BytesCompleted, err
	})
}
