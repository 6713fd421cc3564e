package pipeline_test

import (
	"math"
	"reflect"
	"testing"

	"reelsmith/internal/pipeline"
)

func TestSnapshotIsIsolatedFromContext(t *testing.T) {
	pctx := pipeline.NewContext(map[string]any{
		"timing": map[string]any{"setup_ms": int64(10)},
		"tags":   []string{"a"},
	})
	snap := pctx.Snapshot()

	timing, _ := snap.Map("timing")
	timing["setup_ms"] = int64(99)
	tags, _ := snap.Strings("tags")
	tags[0] = "mutated"

	pctx.Apply(pipeline.NewPatch().SetString("later", "x"))

	if snap.Has("later") {
		t.Fatal("snapshot observed a later merge")
	}
	again, _ := snap.Map("timing")
	if again["setup_ms"] != int64(10) {
		t.Fatalf("snapshot was mutated through a getter: %v", again)
	}
	if got, _ := pctx.Snapshot().Strings("tags"); got[0] != "a" {
		t.Fatalf("context was mutated through a snapshot: %v", got)
	}
}

func TestPatchKeepsInsertionOrder(t *testing.T) {
	patch := pipeline.NewPatch().SetString("b", "1").SetInt("a", 2).SetString("b", "3")
	if !reflect.DeepEqual(patch.Keys(), []string{"b", "a"}) {
		t.Fatalf("unexpected key order %v", patch.Keys())
	}
	if v, _ := patch.Get("b"); v != "3" {
		t.Fatalf("expected overwrite, got %v", v)
	}
	var nilPatch *pipeline.Patch
	if nilPatch.Len() != 0 || nilPatch.Keys() != nil {
		t.Fatal("nil patch should be empty")
	}
}

func TestSnapshotTypedGetters(t *testing.T) {
	snap := pipeline.SnapshotOf(map[string]any{
		"count":  float64(3),
		"ratio":  1.5,
		"ok":     true,
		"list":   []any{"x", "y"},
		"name":   "reel",
		"broken": []any{"x", 1},
		"huge":   1e20,
		"tiny":   -1e20,
		"edge":   float64(1 << 63),
		"floor":  float64(math.MinInt64),
	})
	if n, ok := snap.Int("count"); !ok || n != 3 {
		t.Fatalf("Int: %d %v", n, ok)
	}
	if _, ok := snap.Int("ratio"); ok {
		t.Fatal("fractional float should not convert to int")
	}
	for _, key := range []string{"huge", "tiny", "edge"} {
		if n, ok := snap.Int(key); ok {
			t.Fatalf("Int(%s) = %d; out of range float should not convert", key, n)
		}
	}
	if n, ok := snap.Int("floor"); !ok || n != math.MinInt64 {
		t.Fatalf("Int(floor): %d %v", n, ok)
	}
	if f, ok := snap.Float("ratio"); !ok || f != 1.5 {
		t.Fatalf("Float: %v %v", f, ok)
	}
	if b, ok := snap.Bool("ok"); !ok || !b {
		t.Fatal("Bool failed")
	}
	if list, ok := snap.Strings("list"); !ok || !reflect.DeepEqual(list, []string{"x", "y"}) {
		t.Fatalf("Strings: %v %v", list, ok)
	}
	if _, ok := snap.Strings("broken"); ok {
		t.Fatal("mixed list should not convert")
	}
	if snap.StringOr("missing", "fallback") != "fallback" {
		t.Fatal("StringOr fallback failed")
	}
	if !reflect.DeepEqual(snap.Keys(), []string{"broken", "count", "edge", "floor", "huge", "list", "name", "ok", "ratio", "tiny"}) {
		t.Fatalf("unexpected keys %v", snap.Keys())
	}
}
