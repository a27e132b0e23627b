package observability

import (
	"os"
	"strconv"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	envTracesSampler    = "OTEL_TRACES_SAMPLER"
	envTracesSamplerArg = "OTEL_TRACES_SAMPLER_ARG"
)

// Ratio used when a ratio sampler is selected without a usable argument.
const fallbackSampleRatio = 1.0

// samplerFactories maps OTEL_TRACES_SAMPLER values to constructors. The
// argument is the parsed OTEL_TRACES_SAMPLER_ARG ratio.
var samplerFactories = map[string]func(ratio float64) sdktrace.Sampler{
	"always_on":  func(float64) sdktrace.Sampler { return sdktrace.AlwaysSample() },
	"always_off": func(float64) sdktrace.Sampler { return sdktrace.NeverSample() },
	"traceidratio": func(r float64) sdktrace.Sampler {
		return sdktrace.TraceIDRatioBased(r)
	},
	"parentbased_traceidratio": func(r float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(r))
	},
	"parentbased_always_on": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	},
	"parentbased_always_off": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.NeverSample())
	},
}

func newSampler() sdktrace.Sampler {
	return samplerFromEnv(os.Getenv)
}

// samplerFromEnv resolves the sampler through getenv. Unknown or empty
// sampler names fall back to parentbased_always_on.
func samplerFromEnv(getenv func(string) string) sdktrace.Sampler {
	factory, ok := samplerFactories[getenv(envTracesSampler)]
	if !ok {
		factory = samplerFactories["parentbased_always_on"]
	}

	return factory(sampleRatio(getenv(envTracesSamplerArg)))
}

func sampleRatio(raw string) float64 {
	if raw == "" {
		return fallbackSampleRatio
	}

	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return fallbackSampleRatio
	}

	return ratio
}
