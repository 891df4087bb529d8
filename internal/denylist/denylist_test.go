package denylist

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejo1307/tokenaudit/internal/config"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"var(--legacy-red)", "var(--legacy-red)", true},
		{"var(--legacy-red, #f00)", "var(--legacy-red)", true},
		{"  VAR( --x ,1px)", "var(--x)", true},
		{"#ff0000", "", false},
		{"calc(var(--x) + 1px)", "", false},
	}
	for _, tt := range tests {
		got, ok := Canonical(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestList_Contains(t *testing.T) {
	l := New([]string{"var(--legacy-red)", " ", "var(--old-gap, 4px)"})

	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Contains("var(--legacy-red)"))
	assert.True(t, l.Contains("var(--legacy-red, #ff0000)"))
	assert.True(t, l.Contains("var(--old-gap)"))
	assert.False(t, l.Contains("var(--brand-red)"))
	assert.False(t, l.Contains("#ff0000"))

	var empty *List
	assert.False(t, empty.Contains("var(--legacy-red)"))
	assert.Zero(t, empty.Len())
}

func TestDecode(t *testing.T) {
	entries, err := Decode([]byte(`["var(--a)","var(--b)"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"var(--a)", "var(--b)"}, entries)

	entries, err = Decode([]byte(`{"flaggedVariables":["var(--c)"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"var(--c)"}, entries)

	_, err = Decode([]byte(`{"other":[]}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func newSource(location string) *Source {
	hc := &http.Client{}
	gock.InterceptClient(hc)
	return NewSource(location, config.Default(), WithHTTPClient(hc))
}

func TestSource_FetchFromURL(t *testing.T) {
	defer gock.Off()

	gock.New("https://tokens.example.test").
		Get("/flagged.json").
		Reply(http.StatusOK).
		JSON([]string{"var(--legacy-red)"})

	l := newSource("https://tokens.example.test/flagged.json").Fetch(context.Background())
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Contains("var(--legacy-red)"))
	assert.True(t, gock.IsDone())
}

func TestSource_LoadFailuresWrapErrLoad(t *testing.T) {
	defer gock.Off()

	gock.New("https://tokens.example.test").
		Get("/missing.json").
		Reply(http.StatusNotFound)
	gock.New("https://tokens.example.test").
		Get("/broken.json").
		Reply(http.StatusOK).
		BodyString("{")

	for _, path := range []string{"/missing.json", "/broken.json"} {
		_, err := newSource("https://tokens.example.test" + path).Load(context.Background())
		require.Error(t, err, path)
		assert.True(t, errors.Is(err, ErrLoad), path)
	}
}

func TestSource_FetchFallsBackToEmpty(t *testing.T) {
	defer gock.Off()

	gock.New("https://tokens.example.test").
		Get("/flagged.json").
		Reply(http.StatusInternalServerError)

	l := newSource("https://tokens.example.test/flagged.json").Fetch(context.Background())
	require.NotNil(t, l)
	assert.Zero(t, l.Len())
}

func TestSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flagged.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"flaggedVariables":["var(--x)"]}`), 0o644))

	l, err := NewSource(path, config.Default()).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, l.Contains("var(--x)"))

	_, err = NewSource(filepath.Join(t.TempDir(), "nope.json"), config.Default()).Load(context.Background())
	assert.ErrorIs(t, err, ErrLoad)
}

func TestSource_EmptyLocation(t *testing.T) {
	l, err := NewSource("", config.Default()).Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, l.Len())
}
