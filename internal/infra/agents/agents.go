// Package agents provides the built-in executors the CLI can run graphs with.
package agents

import (
	"context"
	"fmt"
	"time"

	"agentgraph/internal/domain/graph"
	sharederrors "agentgraph/internal/shared/errors"

	"github.com/go-viper/mapstructure/v2"
	"golang.org/x/time/rate"
)

// Built-in agent names.
const (
	AgentEcho  = "echo"
	AgentSleep = "sleep"
	AgentFail  = "fail"
	AgentFlaky = "flaky"
)

// Func is the plain-Go shape of an executor.
type Func func(ctx context.Context, in graph.ExecutionInput) (any, error)

// FromFunc adapts fn to graph.Executor. Errors are mapped to failure-policy
// codes with sharederrors.CodeOf.
func FromFunc(fn Func) graph.Executor {
	return graph.ExecutorFunc(func(ctx context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
		out, err := fn(ctx, in)
		if err != nil {
			return graph.ExecutionOutput{Output: out, Error: err.Error(), ErrorCode: sharederrors.CodeOf(err)}
		}
		return graph.Succeed(out)
	})
}

// Options configures the built-in registry.
type Options struct {
	// RatePerSecond throttles every built-in agent when > 0.
	RatePerSecond float64
	Burst         int
}

// Builtins returns a registry holding echo, sleep, fail and flaky.
func Builtins(opts Options) graph.Registry {
	registry := graph.Registry{
		AgentEcho:  FromFunc(echo),
		AgentSleep: FromFunc(sleep),
		AgentFail:  FromFunc(fail),
		AgentFlaky: FromFunc(flaky),
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
		for name, exec := range registry {
			registry[name] = Throttle(exec, limiter)
		}
	}
	return registry
}

// Throttle waits for limiter before every call to exec.
func Throttle(exec graph.Executor, limiter *rate.Limiter) graph.Executor {
	return graph.ExecutorFunc(func(ctx context.Context, in graph.ExecutionInput) graph.ExecutionOutput {
		if err := limiter.Wait(ctx); err != nil {
			return graph.Fail(sharederrors.CodeOf(err), fmt.Sprintf("rate limit wait: %v", err))
		}
		return exec.Execute(ctx, in)
	})
}

// decodeInput decodes a node's YAML or JSON input into out. Strings such as
// "250ms" decode into time.Duration fields.
func decodeInput(input any, out any) error {
	if input == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return sharederrors.NewPermanent(err, "invalid node input")
	}
	return nil
}

func echo(_ context.Context, in graph.ExecutionInput) (any, error) {
	return map[string]any{
		"nodeId":       in.Node.ID,
		"input":        in.Node.Input,
		"dependencies": in.DependencyOutputs,
	}, nil
}

type sleepInput struct {
	Duration time.Duration `json:"duration"`
}

func sleep(ctx context.Context, in graph.ExecutionInput) (any, error) {
	var params sleepInput
	if err := decodeInput(in.Node.Input, &params); err != nil {
		return nil, err
	}
	if params.Duration < 0 {
		return nil, sharederrors.Codef(sharederrors.CodePermanent, "negative sleep duration %s", params.Duration)
	}

	timer := time.NewTimer(params.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]any{"slept": params.Duration.String()}, nil
	}
}

type failInput struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func fail(_ context.Context, in graph.ExecutionInput) (any, error) {
	params := failInput{Code: sharederrors.CodePermanent, Message: "node configured to fail"}
	if err := decodeInput(in.Node.Input, &params); err != nil {
		return nil, err
	}
	return nil, sharederrors.Codef(params.Code, "%s", params.Message)
}

type flakyInput struct {
	Failures int    `json:"failures"`
	Code     string `json:"code"`
}

// flaky fails its first Failures attempts, then succeeds.
func flaky(_ context.Context, in graph.ExecutionInput) (any, error) {
	params := flakyInput{Failures: 1, Code: sharederrors.CodeTransient}
	if err := decodeInput(in.Node.Input, &params); err != nil {
		return nil, err
	}
	if in.Attempt <= params.Failures {
		return nil, sharederrors.Codef(params.Code, "attempt %d of %d scheduled failures", in.Attempt, params.Failures)
	}
	return map[string]any{"attempt": in.Attempt}, nil
}
