package testutil

import (
	"math/rand"

	"github.com/hupe1980/agentloop/model"
)

// Rechunk renders msg as a fragment stream cut at random positions.
//
// Reasoning fragments come first. Content fragments and the fragments of
// all tool-call slots are then interleaved at random while every field
// keeps its own chunk order, so the stream is one a real backend could
// have produced for msg. Every slot receives at least one fragment.
func Rechunk(msg model.Message, rng *rand.Rand) []model.Fragment {
	var frags []model.Fragment

	for _, s := range randomChunks(msg.Reasoning, rng) {
		frags = append(frags, model.Fragment{Reasoning: s})
	}

	var streams [][]model.Fragment

	if content := randomChunks(msg.Content, rng); len(content) > 0 {
		stream := make([]model.Fragment, len(content))
		for i, s := range content {
			stream[i] = model.Fragment{Content: s}
		}
		streams = append(streams, stream)
	}

	for slot, tc := range msg.ToolCalls {
		delta := func(id, name, args string) model.Fragment {
			return model.Fragment{ToolCall: &model.ToolCallDelta{Index: slot, ID: id, Name: name, Arguments: args}}
		}

		var ids, names, args []model.Fragment
		for _, s := range randomChunks(tc.ID, rng) {
			ids = append(ids, delta(s, "", ""))
		}
		for _, s := range randomChunks(tc.Name, rng) {
			names = append(names, delta("", s, ""))
		}
		for _, s := range randomChunks(tc.Arguments, rng) {
			args = append(args, delta("", "", s))
		}

		if len(ids)+len(names)+len(args) == 0 {
			ids = append(ids, delta("", "", ""))
		}

		for _, st := range [][]model.Fragment{ids, names, args} {
			if len(st) > 0 {
				streams = append(streams, st)
			}
		}
	}

	return append(frags, interleave(streams, rng)...)
}

// randomChunks cuts s into 1..len(s) pieces at random byte offsets.
func randomChunks(s string, rng *rand.Rand) []string {
	if s == "" {
		return nil
	}

	var out []string
	for len(s) > 0 {
		n := 1 + rng.Intn(len(s))
		out = append(out, s[:n])
		s = s[n:]
	}

	return out
}

// interleave merges streams at random, preserving order within each stream.
func interleave(streams [][]model.Fragment, rng *rand.Rand) []model.Fragment {
	var out []model.Fragment

	pos := make([]int, len(streams))
	live := make([]int, 0, len(streams))
	for i := range streams {
		live = append(live, i)
	}

	for len(live) > 0 {
		k := rng.Intn(len(live))
		i := live[k]

		out = append(out, streams[i][pos[i]])
		pos[i]++

		if pos[i] == len(streams[i]) {
			live = append(live[:k], live[k+1:]...)
		}
	}

	return out
}

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewSource(int64(seed)))
}
