package goSession

import (
	"context"
	"testing"

	"github.com/MrEthical07/goSession/permission"
)

func newBenchmarkEngine(b *testing.B) *Engine {
	b.Helper()
	e := newTestEngine(b, newFakeGateway(b), func(o *engineOpts) {
		o.source = permission.RemoteSourceFunc(func(context.Context, int) ([]permission.ModuleGrant, error) {
			return permission.DefaultTable().Grants(1), nil
		})
	})
	login(b, e, "admin@example.com")
	waitRBAC(b, e)
	return e
}

func BenchmarkCan(b *testing.B) {
	e := newBenchmarkEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !e.Can("change_container_plan") {
			b.Fatal("privilege missing")
		}
	}
}

func BenchmarkIsRouteAccessible(b *testing.B) {
	e := newBenchmarkEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !e.IsRouteAccessible("/planning/containers/42") {
			b.Fatal("route denied")
		}
	}
}

func BenchmarkCanParallel(b *testing.B) {
	e := newBenchmarkEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = e.Can("view_report")
		}
	})
}

func BenchmarkRefreshAccessToken(b *testing.B) {
	e := newBenchmarkEngine(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.RefreshAccessToken(ctx); err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
	}
}
