package memory

import (
	"context"
	"errors"
	"testing"

	"cpidash/internal/core"
)

func TestStoreLoad(t *testing.T) {
	obs := Sample()
	s := New(obs)
	obs[0].Value = -1

	ds, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ds.Rows().At(0).Value != 100.0 {
		t.Fatal("store must copy its input")
	}
}

func TestFailing(t *testing.T) {
	boom := errors.New("boom")
	_, err := Failing(boom).Load(context.Background())
	if !errors.Is(err, boom) || !core.IsLoadError(err) {
		t.Fatalf("unexpected error %v", err)
	}
}
