package convert

import (
	"testing"
	"time"
)

func TestWithTransferConcurrency(t *testing.T) {
	tests := []struct {
		name  string
		input int
		want  int
	}{
		{
			name:  "zero clamped to 1",
			input: 0,
			want:  1,
		},
		{
			name:  "negative clamped to 1",
			input: -5,
			want:  1,
		},
		{
			name:  "above max clamped to MaxTransferConcurrency",
			input: 100,
			want:  MaxTransferConcurrency,
		},
		{
			name:  "exactly MaxTransferConcurrency",
			input: MaxTransferConcurrency,
			want:  MaxTransferConcurrency,
		},
		{
			name:  "valid value preserved",
			input: 8,
			want:  8,
		},
		{
			name:  "minimum valid value",
			input: 1,
			want:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newOrchestratorConfig()
			WithTransferConcurrency(tt.input)(cfg)

			if cfg.concurrency != tt.want {
				t.Errorf("concurrency = %d, want %d", cfg.concurrency, tt.want)
			}
		})
	}
}

func TestWithLockTimeout(t *testing.T) {
	tests := []struct {
		name  string
		input time.Duration
		want  time.Duration
	}{
		{
			name:  "zero restores default",
			input: 0,
			want:  DefaultLockTimeout,
		},
		{
			name:  "negative restores default",
			input: -time.Second,
			want:  DefaultLockTimeout,
		},
		{
			name:  "positive value preserved",
			input: 5 * time.Second,
			want:  5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newOrchestratorConfig()
			WithLockTimeout(tt.input)(cfg)

			if cfg.lockTimeout != tt.want {
				t.Errorf("lockTimeout = %v, want %v", cfg.lockTimeout, tt.want)
			}
		})
	}
}

func TestOrchestratorConfigDefaults(t *testing.T) {
	cfg := newOrchestratorConfig()

	if cfg.concurrency != DefaultTransferConcurrency {
		t.Errorf("concurrency = %d, want %d", cfg.concurrency, DefaultTransferConcurrency)
	}
	if cfg.lockTimeout != DefaultLockTimeout {
		t.Errorf("lockTimeout = %v, want %v", cfg.lockTimeout, DefaultLockTimeout)
	}
	if _, ok := cfg.runner.(execRunner); !ok {
		t.Errorf("runner = %T, want execRunner", cfg.runner)
	}
	if cfg.logger != nil {
		t.Errorf("logger = %v, want nil", cfg.logger)
	}
	if cfg.storeClient != nil {
		t.Errorf("storeClient = %v, want nil", cfg.storeClient)
	}
	if cfg.awsProfile != "" {
		t.Errorf("awsProfile = %q, want empty", cfg.awsProfile)
	}
}

func TestOrchestratorOptions(t *testing.T) {
	cfg := newOrchestratorConfig()

	logger := nopLogger{}
	runner := &fakeRunner{}
	client := newFakeStoreClient()

	WithLogger(logger)(cfg)
	WithRunner(runner)(cfg)
	WithStoreClient(client)(cfg)
	WithAWSProfile("bench")(cfg)

	if cfg.logger != logger {
		t.Error("WithLogger did not set the logger")
	}
	if cfg.runner != runner {
		t.Error("WithRunner did not set the runner")
	}
	if cfg.storeClient != client {
		t.Error("WithStoreClient did not set the client")
	}
	if cfg.awsProfile != "bench" {
		t.Errorf("awsProfile = %q, want %q", cfg.awsProfile, "bench")
	}
}

func TestRunConfigDefaults(t *testing.T) {
	cfg := newRunConfig()

	if !cfg.publish {
		t.Error("publish = false, want true")
	}
	if !cfg.preflight {
		t.Error("preflight = false, want true")
	}
}

func TestRunOptions(t *testing.T) {
	cfg := newRunConfig()

	WithSkipPublish()(cfg)
	WithoutPreflight()(cfg)

	if cfg.publish {
		t.Error("WithSkipPublish left publish enabled")
	}
	if cfg.preflight {
		t.Error("WithoutPreflight left preflight enabled")
	}
}
