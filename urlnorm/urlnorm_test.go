package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize_Idempotent(t *testing.T) {
	inputs := []string{
		"HTTP://Example.com/Docs/Intro/",
		"https://example.com/docs/intro?x=1",
		"https://example.com/docs/intro#section",
		"https://example.com/docs/../docs/intro",
		"https://example.com/",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		require.NoError(t, err)
		twice, err := Canonicalize(once)
		require.NoError(t, err)
		require.Equal(t, once, twice, "canonicalize not idempotent for %q", in)
	}
}

func TestCanonicalize_StripsFragmentAndQueryIdentically(t *testing.T) {
	a, err := Canonicalize("https://example.com/docs/intro#frag")
	require.NoError(t, err)
	b, err := Canonicalize("https://example.com/docs/intro?q=1")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCanonicalize_RootPathKeepsSlash(t *testing.T) {
	got, err := Canonicalize("https://example.com")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", got)
}

func TestCanonicalize_RejectsNonHTTPScheme(t *testing.T) {
	_, err := Canonicalize("ftp://example.com/file")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestResolve_RelativeLink(t *testing.T) {
	got, err := Resolve("https://example.com/docs/intro", "../advanced")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/advanced", got)
}

func TestInScope(t *testing.T) {
	start, err := Canonicalize("https://example.com/docs")
	require.NoError(t, err)

	cases := []struct {
		url string
		in  bool
	}{
		{"https://example.com/docs", true},
		{"https://example.com/docs/intro", true},
		{"https://example.com/other", false},
		{"https://other.com/docs/intro", false},
		{"https://example.com/docsish", false},
	}
	for _, c := range cases {
		cand, err := Canonicalize(c.url)
		require.NoError(t, err)
		require.Equal(t, c.in, InScope(start, cand), c.url)
	}
}

func TestPageID_StableAndDeterministic(t *testing.T) {
	u, err := Canonicalize("https://example.com/docs/intro")
	require.NoError(t, err)
	id1 := PageID(u)
	id2 := PageID(u)
	require.Equal(t, id1, id2)
	require.Regexp(t, "^p_[0-9a-f]{64}$", id1)
}

func TestFilesystemHost(t *testing.T) {
	u, err := Canonicalize("https://example.com:8080/docs")
	require.NoError(t, err)
	host, err := FilesystemHost(u)
	require.NoError(t, err)
	require.Equal(t, "example.com_8080", host)
}
