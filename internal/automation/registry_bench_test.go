package automation

import (
	"context"
	"fmt"
	"testing"
)

// setupBenchRegistry creates a registry pre-populated with n automations.
func setupBenchRegistry(b *testing.B, n int) *Registry {
	b.Helper()
	repo := newMockRepository()
	ctx := context.Background()

	for i := 0; i < n; i++ {
		def := testDefinition(fmt.Sprintf("auto-%04d", i), fmt.Sprintf("Automation %d", i))
		if err := repo.Create(ctx, def); err != nil {
			b.Fatalf("creating automation %d: %v", i, err)
		}
	}

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(ctx); err != nil {
		b.Fatalf("refreshing cache: %v", err)
	}
	return reg
}

func BenchmarkRegistryGet(b *testing.B) {
	reg := setupBenchRegistry(b, 50)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.Get(ctx, "auto-0025") //nolint:errcheck // benchmark
	}
}

func BenchmarkRegistryList(b *testing.B) {
	reg := setupBenchRegistry(b, 50)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.List(ctx) //nolint:errcheck // benchmark
	}
}

func BenchmarkRegistryRefreshCache(b *testing.B) {
	repo := newMockRepository()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		def := testDefinition(fmt.Sprintf("auto-%04d", i), fmt.Sprintf("Automation %d", i))
		repo.Create(ctx, def) //nolint:errcheck // setup
	}

	reg := NewRegistry(repo)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.RefreshCache(ctx) //nolint:errcheck // benchmark
	}
}

func BenchmarkDefinitionBuild(b *testing.B) {
	def := testDefinition("auto-1", "Build Bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := def.Build(); err != nil {
			b.Fatal(err)
		}
	}
}
