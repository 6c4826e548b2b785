package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := RunID(ctx); ok {
		t.Fatal("RunID should be absent")
	}
	if _, ok := DelegationID(ctx); ok {
		t.Fatal("DelegationID should be absent")
	}

	ctx = WithRunID(ctx, "run")
	if got, ok := RunID(ctx); !ok || got != "run" {
		t.Fatalf("RunID mismatch: %v %v", got, ok)
	}

	ctx = WithWorker(ctx, "coder_1")
	if got, ok := Worker(ctx); !ok || got != "coder_1" {
		t.Fatalf("Worker mismatch: %v %v", got, ok)
	}

	ctx = WithDelegationID(ctx, "d1")
	ctx = WithDelegationID(ctx, "d2")
	if got, ok := DelegationID(ctx); !ok || got != "d2" {
		t.Fatalf("DelegationID mismatch: %v %v", got, ok)
	}

	if _, ok := Worker(WithWorker(context.Background(), "")); ok {
		t.Fatal("empty worker should be reported as absent")
	}
}
