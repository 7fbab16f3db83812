package planner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelens/spotigram/internal/apperror"
)

func TestIdentifyParsesLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, modelReply("Rick Astley - Never Gonna Give You Up\nGloria Gaynor - I Will Survive"))
	}))
	defer srv.Close()

	p := newTestPlanner(srv.URL, 2)
	tracks, err := p.Identify(context.Background(), "the one that goes never gonna give you up")
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "Rick Astley", tracks[0].Artist)
	assert.Equal(t, "Never Gonna Give You Up", tracks[0].Title)
	assert.Equal(t, "I Will Survive", tracks[1].Title)
}

func TestIdentifyEmptyDescription(t *testing.T) {
	p := newTestPlanner("http://unused.invalid", 2)
	_, err := p.Identify(context.Background(), "   ")
	require.Error(t, err)
}

func TestIdentifyServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newTestPlanner(srv.URL, 2)
	_, err := p.Identify(context.Background(), "sad piano song")
	require.ErrorIs(t, err, apperror.ErrTransient)
}

func TestParseTrackLinesStripsNumberingAndFences(t *testing.T) {
	tracks, err := parseTrackLines("```\n1. Daft Punk - One More Time\n2) Justice - D.A.N.C.E.\n• Air - La Femme d'Argent\n```")
	require.NoError(t, err)
	require.Len(t, tracks, 3)
	assert.Equal(t, "Daft Punk", tracks[0].Artist)
	assert.Equal(t, "One More Time", tracks[0].Title)
	assert.Equal(t, "D.A.N.C.E.", tracks[1].Title)
	assert.Equal(t, "La Femme d'Argent", tracks[2].Title)
}

func TestParseTrackLinesCapsAtFive(t *testing.T) {
	raw := ""
	for i := 1; i <= 8; i++ {
		raw += fmt.Sprintf("Artist %d - Song %d\n", i, i)
	}
	tracks, err := parseTrackLines(raw)
	require.NoError(t, err)
	assert.Len(t, tracks, 5)
}

func TestParseTrackLinesRejectsProse(t *testing.T) {
	_, err := parseTrackLines("I'm not sure which song you mean, could you give me more details?")
	require.Error(t, err)
}
