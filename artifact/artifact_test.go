//
// Tencent is pleased to support the open source community by making seqchat-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// seqchat-go is licensed under the Apache License Version 2.0.
//
//

package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAndLookupIgnoresCase(t *testing.T) {
	table := NewTable()
	ok := table.Merge(map[string]any{
		"gene_symbol": "tRNA-Sec-TCA-1-1",
		"isotype":     "Sec",
	})
	require.True(t, ok)

	rec, found := table.Lookup("TRNA-SEC-TCA-1-1")
	require.True(t, found)
	assert.Equal(t, "tRNA-Sec-TCA-1-1", rec.Symbol)
	assert.Equal(t, "Sec", rec.Fields["isotype"])

	_, found = table.Lookup("tRNA-Ala-AGC-1-1")
	assert.False(t, found)
}

func TestMergeWithoutSymbolRejected(t *testing.T) {
	table := NewTable()
	assert.False(t, table.Merge(map[string]any{"isotype": "Sec"}))
	assert.False(t, table.Merge(map[string]any{"gene_symbol": ""}))
	assert.Zero(t, table.Len())
}

func TestMergeDeepMergesNestedMaps(t *testing.T) {
	table := NewTable()
	require.True(t, table.Merge(map[string]any{
		"gene_symbol": "tRNA-Sec-TCA-1-1",
		"sequences": map[string]any{
			"Genomic Sequence": "GCCCGGATG",
		},
	}))
	require.True(t, table.Merge(map[string]any{
		"gene_symbol": "TRNA-SEC-TCA-1-1",
		"sequences": map[string]any{
			"Predicted Mature tRNA": "GCCCGGAUG",
		},
	}))

	rec, found := table.Lookup("tRNA-Sec-TCA-1-1")
	require.True(t, found)
	seqs, ok := rec.Fields["sequences"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "GCCCGGATG", seqs["Genomic Sequence"])
	assert.Equal(t, "GCCCGGAUG", seqs["Predicted Mature tRNA"])
	assert.Equal(t, 1, table.Len())
}

func TestMergeScalarOverwrites(t *testing.T) {
	table := NewTable()
	require.True(t, table.Merge(map[string]any{
		"gene_symbol": "g1", "score": 1.0,
	}))
	require.True(t, table.Merge(map[string]any{
		"gene_symbol": "g1", "score": 2.0,
	}))
	rec, _ := table.Lookup("g1")
	assert.Equal(t, 2.0, rec.Fields["score"])
}

func TestWalk(t *testing.T) {
	rec := &Record{
		Symbol: "g1",
		Fields: map[string]any{
			"sequences": map[string]any{
				"Genomic Sequence": "GCAT",
				"empty":            nil,
			},
			"score": 42.0,
		},
	}

	v, ok := rec.Walk([]string{"sequences", "Genomic Sequence"})
	require.True(t, ok)
	assert.Equal(t, "GCAT", v)

	v, ok = rec.Walk([]string{"score"})
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = rec.Walk([]string{"sequences", "missing"})
	assert.False(t, ok)
	_, ok = rec.Walk([]string{"sequences", "empty"})
	assert.False(t, ok)
	_, ok = rec.Walk([]string{"score", "deeper"})
	assert.False(t, ok)
}

func TestLookupReturnsDetachedCopy(t *testing.T) {
	table := NewTable()
	require.True(t, table.Merge(map[string]any{
		"gene_symbol": "g1",
		"sequences":   map[string]any{"Genomic Sequence": "GCAT"},
	}))
	rec, found := table.Lookup("g1")
	require.True(t, found)

	require.True(t, table.Merge(map[string]any{
		"gene_symbol": "g1",
		"sequences":   map[string]any{"Genomic Sequence": "AAAA", "extra": "x"},
	}))

	v, ok := rec.Walk([]string{"sequences", "Genomic Sequence"})
	require.True(t, ok)
	assert.Equal(t, "GCAT", v)
	_, ok = rec.Walk([]string{"sequences", "extra"})
	assert.False(t, ok)
}

func TestConcurrentMergeAndWalk(t *testing.T) {
	table := NewTable()
	require.True(t, table.Merge(map[string]any{
		"gene_symbol": "tRNA-Sec-TCA-1-1",
		"sequences":   map[string]any{"Predicted Mature tRNA": "GCCCGGAUG"},
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			table.Merge(map[string]any{
				"gene_symbol": "tRNA-Sec-TCA-1-1",
				"sequences":   map[string]any{"Genomic Sequence": "GCCCGGATG"},
			})
		}
	}()
	for i := 0; i < 500; i++ {
		rec, found := table.Lookup("TRNA-SEC-TCA-1-1")
		require.True(t, found)
		v, ok := rec.Walk([]string{"sequences", "Predicted Mature tRNA"})
		require.True(t, ok)
		require.Equal(t, "GCCCGGAUG", v)
	}
	<-done
}

func TestSymbolsKeepOriginalCasing(t *testing.T) {
	table := NewTable()
	require.True(t, table.Merge(map[string]any{"gene_symbol": "tRNA-Sec-TCA-1-1"}))
	require.True(t, table.Merge(map[string]any{"gene_symbol": "tRNA-Ala-AGC-1-1"}))
	assert.ElementsMatch(t,
		[]string{"tRNA-Sec-TCA-1-1", "tRNA-Ala-AGC-1-1"},
		table.Symbols())
}
