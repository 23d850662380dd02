package noncelease

import (
	"context"
	"testing"
	"time"
)

func TestReleaseAsyncRunsReporterThenReleases(t *testing.T) {
	p := newSeededPool(t, 1)
	l, err := p.TryAcquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	reported := false
	l.ReleaseAsync(context.Background(), false, func(ctx context.Context) {
		reported = true
	})
	if !reported {
		t.Fatal("expected reporter to run before release completes")
	}

	l2, err := p.TryAcquire()
	if err != nil {
		t.Fatalf("expected pool slot freed after ReleaseAsync, got %v", err)
	}
	l2.Release(false)
}

func TestReleaseAsyncThenSyncReleaseIsNoop(t *testing.T) {
	p := newSeededPool(t, 1)
	l, err := p.TryAcquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	l.ReleaseAsync(context.Background(), false, nil)
	l.Release(false) // must not double-release the same permit

	l2, err := p.TryAcquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if _, err := p.TryAcquire(); err == nil {
		t.Fatal("expected pool of size 1 to be exhausted after single re-acquire")
	}
	l2.Release(false)
}

func TestReleaseAsyncBoundedByContext(t *testing.T) {
	p := newSeededPool(t, 1)
	l, err := p.TryAcquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	start := time.Now()
	l.ReleaseAsync(ctx, false, func(ctx context.Context) {
		<-ctx.Done() // simulate a slow reporter bounded by ctx
	})
	if time.Since(start) > 200*time.Millisecond {
		t.Fatal("expected ReleaseAsync to return promptly once ctx is done")
	}
}
