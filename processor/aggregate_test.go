package processor

import (
	"strconv"
	"testing"

	"hyperfeed/models"
)

func TestAggregateLevels(t *testing.T) {
	levels := []models.WsLevel{
		{Px: "100", Sz: "2", N: 1},
		{Px: "101", Sz: "3", N: 2},
	}

	out := AggregateLevels(levels, 10)
	if len(out) != 2 {
		t.Fatalf("expected 2 ranks, got %d", len(out))
	}
	if out[0].Price != "100" || out[0].Size != "2" || out[0].Cumulative != "2.0000" {
		t.Errorf("unexpected rank 1: %+v", out[0])
	}
	if out[1].Price != "101" || out[1].Size != "3" || out[1].Cumulative != "5.0000" {
		t.Errorf("unexpected rank 2: %+v", out[1])
	}
}

func TestAggregateLevelsTruncatesAtLimit(t *testing.T) {
	levels := make([]models.WsLevel, 25)
	for i := range levels {
		levels[i] = models.WsLevel{Px: strconv.Itoa(100 + i), Sz: "1"}
	}

	out := AggregateLevels(levels, 10)
	if len(out) != 10 {
		t.Fatalf("expected 10 ranks, got %d", len(out))
	}
	if out[9].Cumulative != "10.0000" {
		t.Errorf("unexpected cumulative at rank 10: %s", out[9].Cumulative)
	}
}

func TestAggregateLevelsEmpty(t *testing.T) {
	if out := AggregateLevels(nil, 10); len(out) != 0 {
		t.Fatalf("expected no ranks, got %d", len(out))
	}
}

func TestAggregateLevelsNonDecreasing(t *testing.T) {
	levels := []models.WsLevel{
		{Px: "1", Sz: "0.5"},
		{Px: "2", Sz: "0"},
		{Px: "3", Sz: "1.25"},
		{Px: "4", Sz: "0.0001"},
	}

	out := AggregateLevels(levels, 10)
	prev := ""
	for i, lvl := range out {
		if prev != "" && lvl.Cumulative < prev && len(lvl.Cumulative) <= len(prev) {
			t.Errorf("cumulative decreased at rank %d: %s -> %s", i+1, prev, lvl.Cumulative)
		}
		prev = lvl.Cumulative
	}
	if out[3].Cumulative != "1.7501" {
		t.Errorf("unexpected final cumulative: %s", out[3].Cumulative)
	}
}

func TestAggregateLevelsNoFloatDrift(t *testing.T) {
	// 10000 sizes of 0.0001 sum to exactly 1 under decimal accumulation;
	// a float64 running sum would show drift in the formatted output.
	levels := make([]models.WsLevel, 10000)
	for i := range levels {
		levels[i] = models.WsLevel{Px: strconv.Itoa(i), Sz: "0.0001"}
	}

	out := AggregateLevels(levels, len(levels))
	if got := out[len(out)-1].Cumulative; got != "1.0000" {
		t.Fatalf("expected exact cumulative 1.0000, got %s", got)
	}
}

func TestAggregateLevelsSkipsUnparsable(t *testing.T) {
	levels := []models.WsLevel{
		{Px: "100", Sz: "2"},
		{Px: "101", Sz: "bogus"},
		{Px: "102", Sz: "3"},
	}

	out := AggregateLevels(levels, 10)
	if len(out) != 2 {
		t.Fatalf("expected unparsable level to be skipped, got %d ranks", len(out))
	}
	if out[1].Cumulative != "5.0000" {
		t.Errorf("unexpected cumulative after skip: %s", out[1].Cumulative)
	}
}
