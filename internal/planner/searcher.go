package planner

import (
	"context"
	"fmt"
	"strings"
)

const (
	maxSearchTracks    = 5
	searchOutputTokens = 512
	searchTemperature  = 0.7
)

const searchSystemPrompt = "You are an expert music search engine with deep knowledge of songs " +
	"across all languages, genres and eras. Identify songs from user descriptions: lyric " +
	"fragments (including phonetic transcriptions), themes, moods, artist hints. Lyrics are " +
	"the strongest signal; prefer exact lyric matches over thematic similarity. Respond with " +
	"ONLY a plain list in 'artist - song' format, one per line. Return a single track when " +
	"confident, 3-5 plausible matches otherwise. No explanations, no numbering, no markdown."

const searchPromptTemplate = "Find songs matching this description:\n\n%q\n\n" +
	"If it contains lyrics (repeated syllables, recognizable phrases, any language), return " +
	"songs with those exact or similar lyrics; otherwise match the theme or mood. " +
	"Format: artist - song, one per line, at most 5 lines."

// Identify resolves a free-form song description into candidate tracks. One
// confident match comes back alone; ambiguous descriptions yield up to five.
func (p *Planner) Identify(ctx context.Context, description string) ([]PlannedTrack, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("planner: empty description")
	}

	text, err := p.complete(ctx, searchSystemPrompt,
		fmt.Sprintf(searchPromptTemplate, description),
		searchOutputTokens, searchTemperature)
	if err != nil {
		return nil, err
	}
	return parseTrackLines(text)
}

// parseTrackLines parses the 'artist - song' line format, tolerating code
// fences and stray numbering the model sometimes adds anyway.
func parseTrackLines(raw string) ([]PlannedTrack, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") && strings.HasSuffix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) > 2 {
			text = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	var tracks []PlannedTrack
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "0123456789.)-• ")

		artist, title, ok := strings.Cut(line, " - ")
		if !ok {
			continue
		}
		artist = strings.TrimSpace(artist)
		title = strings.TrimSpace(title)
		if artist == "" || title == "" {
			continue
		}
		tracks = append(tracks, PlannedTrack{Title: title, Artist: artist})
		if len(tracks) == maxSearchTracks {
			break
		}
	}

	if len(tracks) == 0 {
		return nil, fmt.Errorf("planner: no tracks parsed from response")
	}
	return tracks, nil
}
