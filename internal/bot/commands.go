package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/avelens/spotigram/internal/apperror"
	"github.com/avelens/spotigram/internal/planner"
	"github.com/avelens/spotigram/internal/spotify"
	"github.com/avelens/spotigram/internal/store"
)

func (b *Bot) handleStart(ctx context.Context, msg *Message) error {
	return b.reply(ctx, msg, strings.Join([]string{
		"<b>Spotigram</b> — Spotify in your Telegram.",
		"",
		"/link — connect your Spotify account",
		"/disconnect — remove the connection",
		"/now — what's playing right now",
		"/play /pause /next /prev — control playback",
		"/devices — list devices and move playback",
		"/search &lt;description&gt; — find a song by lyrics or vibe",
		"/mix &lt;vibe&gt; — AI-generated playlist for a mood",
	}, "\n"))
}

func (b *Bot) handleLink(ctx context.Context, msg *Message) error {
	params := url.Values{}
	params.Set("telegram_id", fmt.Sprintf("%d", msg.From.ID))
	if msg.From.Username != "" {
		params.Set("username", msg.From.Username)
	}
	if msg.From.FirstName != "" {
		params.Set("first_name", msg.From.FirstName)
	}
	if msg.From.LastName != "" {
		params.Set("last_name", msg.From.LastName)
	}

	loginURL := fmt.Sprintf("%s/spotify/login?%s", b.baseURL, params.Encode())
	return b.reply(ctx, msg, fmt.Sprintf(
		"Connect your Spotify account:\n<a href=\"%s\">Authorize with Spotify</a>\nThe link is valid for 10 minutes.", loginURL))
}

func (b *Bot) handleDisconnect(ctx context.Context, msg *Message) error {
	user, err := b.users.GetByTelegramID(ctx, msg.From.ID)
	if err != nil {
		return b.reply(ctx, msg, "Nothing to disconnect — no Spotify account is linked.")
	}
	if err := b.creds.Delete(ctx, user.ID); err != nil {
		return err
	}
	return b.reply(ctx, msg, "Spotify account disconnected. Use /link to connect again.")
}

func (b *Bot) handleNow(ctx context.Context, msg *Message) error {
	userID, err := b.localUserID(ctx, msg)
	if err != nil {
		return b.replyForError(ctx, msg, err)
	}

	playing, err := b.client.CurrentlyPlaying(ctx, userID)
	if err != nil {
		return b.replyForError(ctx, msg, err)
	}
	if playing == nil || playing.Item == nil {
		return b.reply(ctx, msg, "Nothing is playing right now.")
	}

	track := playing.Item
	state := "▶️"
	if !playing.IsPlaying {
		state = "⏸"
	}
	return b.reply(ctx, msg, fmt.Sprintf("%s <b>%s</b> — %s",
		state, html.EscapeString(track.Name), html.EscapeString(artistNames(track))))
}

func (b *Bot) handlePlay(ctx context.Context, msg *Message) error {
	return b.playerCommand(ctx, msg, func(userID int64) error {
		return b.client.Play(ctx, userID, nil)
	}, "Resumed playback.")
}

func (b *Bot) handlePause(ctx context.Context, msg *Message) error {
	return b.playerCommand(ctx, msg, func(userID int64) error {
		return b.client.Pause(ctx, userID)
	}, "Paused.")
}

func (b *Bot) handleNext(ctx context.Context, msg *Message) error {
	return b.playerCommand(ctx, msg, func(userID int64) error {
		return b.client.Next(ctx, userID)
	}, "Skipped.")
}

func (b *Bot) handlePrev(ctx context.Context, msg *Message) error {
	return b.playerCommand(ctx, msg, func(userID int64) error {
		return b.client.Previous(ctx, userID)
	}, "Rewound.")
}

// handleDevices lists playback devices; with a number argument it moves
// playback there instead.
func (b *Bot) handleDevices(ctx context.Context, msg *Message, args string) error {
	userID, err := b.localUserID(ctx, msg)
	if err != nil {
		return b.replyForError(ctx, msg, err)
	}

	devices, err := b.client.Devices(ctx, userID)
	if err != nil {
		return b.replyForError(ctx, msg, err)
	}
	if len(devices) == 0 {
		return b.reply(ctx, msg, "No Spotify devices available. Open Spotify on a device first.")
	}

	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 || n > len(devices) {
			return b.reply(ctx, msg, "Pick a device by its number, e.g. <code>/devices 1</code>")
		}
		device := devices[n-1]
		if device.IsRestricted {
			return b.reply(ctx, msg, "That device can't be controlled remotely. Pick another one.")
		}
		if err := b.client.TransferPlayback(ctx, userID, device.ID, true); err != nil {
			return b.replyForError(ctx, msg, err)
		}
		return b.reply(ctx, msg, fmt.Sprintf("Playback moved to <b>%s</b>.", html.EscapeString(device.Name)))
	}

	lines := []string{"Your Spotify devices:"}
	for i, device := range devices {
		marker := ""
		if device.IsActive {
			marker = " — active"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%s)%s", i+1,
			html.EscapeString(device.Name), html.EscapeString(device.Type), marker))
	}
	lines = append(lines, "", "Move playback with <code>/devices &lt;number&gt;</code>.")
	return b.reply(ctx, msg, strings.Join(lines, "\n"))
}

// handleSearch identifies a song from a free-form description (lyrics,
// mood, half-remembered words) and looks the candidates up on Spotify.
func (b *Bot) handleSearch(ctx context.Context, msg *Message, description string) error {
	if description == "" {
		return b.reply(ctx, msg, "Describe the song: <code>/search that one that goes lalala</code>")
	}

	userID, err := b.localUserID(ctx, msg)
	if err != nil {
		return b.replyForError(ctx, msg, err)
	}
	if !b.limiter.Allow(msg.From.ID) {
		return b.reply(ctx, msg, "Easy there — give me a few seconds between searches.")
	}

	if err := b.reply(ctx, msg, "🎧 Listening to your description..."); err != nil {
		return err
	}

	suggestions, err := b.planner.Identify(ctx, description)
	if err != nil {
		if apperror.IsRetryable(err) {
			return b.reply(ctx, msg, "The curator is unavailable right now, please try again shortly.")
		}
		return b.reply(ctx, msg, "Couldn't interpret that description, try different words.")
	}

	var found []*spotify.Track
	var missing []planner.PlannedTrack
	for _, s := range suggestions {
		candidates, err := b.client.SearchTracks(ctx, userID, s.Artist+" "+s.Title, 5)
		if err != nil {
			return b.replyForError(ctx, msg, err)
		}
		best := selectBestTrack(candidates, s)
		if best == nil {
			missing = append(missing, s)
			continue
		}
		found = append(found, best)
	}
	if len(found) == 0 {
		return b.reply(ctx, msg, "Couldn't find any matching tracks on Spotify. Try refining your description.")
	}

	var lines []string
	if len(found) == 1 {
		lines = append(lines, fmt.Sprintf("Found a match for <i>%s</i>:", html.EscapeString(description)))
	} else {
		lines = append(lines, fmt.Sprintf("Found %d possibilities:", len(found)))
	}
	for i, track := range found {
		entry := fmt.Sprintf("🎶 <b>%s</b> — %s",
			html.EscapeString(track.Name), html.EscapeString(artistNames(track)))
		if len(found) > 1 {
			entry = fmt.Sprintf("%d. %s", i+1, entry)
		}
		if track.ExternalURLs.Spotify != "" {
			entry += "\n" + track.ExternalURLs.Spotify
		}
		lines = append(lines, entry)
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, m := range missing {
			names = append(names, m.Artist+" - "+m.Title)
		}
		lines = append(lines, "", "Couldn't match on Spotify: "+html.EscapeString(strings.Join(names, ", ")))
	}
	return b.reply(ctx, msg, strings.Join(lines, "\n"))
}

func (b *Bot) playerCommand(ctx context.Context, msg *Message, action func(userID int64) error, confirmation string) error {
	userID, err := b.localUserID(ctx, msg)
	if err != nil {
		return b.replyForError(ctx, msg, err)
	}
	if err := action(userID); err != nil {
		return b.replyForError(ctx, msg, err)
	}
	return b.reply(ctx, msg, confirmation)
}

func (b *Bot) handleMix(ctx context.Context, msg *Message, vibe string) error {
	if vibe == "" {
		return b.reply(ctx, msg, "Tell me the vibe: <code>/mix rainy sunday morning coffee</code>")
	}

	userID, err := b.localUserID(ctx, msg)
	if err != nil {
		return b.replyForError(ctx, msg, err)
	}

	if !b.limiter.Allow(msg.From.ID) {
		return b.reply(ctx, msg, "Easy there — give me a few seconds between mixes.")
	}
	allowed, err := b.quotas.Consume(ctx, userID, b.dailyQuota)
	if err != nil {
		return err
	}
	if !allowed {
		return b.reply(ctx, msg, fmt.Sprintf("Daily mix limit reached (%d). Try again tomorrow.", b.dailyQuota))
	}

	if err := b.reply(ctx, msg, "🎧 Curating your mix, this takes a moment..."); err != nil {
		return err
	}

	planned, err := b.planner.Plan(ctx, vibe)
	if err != nil {
		if apperror.IsRetryable(err) {
			// The attempt cost the user nothing; give the unit back.
			if rerr := b.quotas.Refund(ctx, userID); rerr != nil {
				log.Printf("Bot: failed to refund mix quota for user %d: %v", userID, rerr)
			}
			return b.reply(ctx, msg, "The curator is unavailable right now, please try again shortly.")
		}
		return b.reply(ctx, msg, "Could not come up with a mix for that, try rephrasing the vibe.")
	}

	var uris []string
	for _, p := range planned {
		candidates, err := b.client.SearchTracks(ctx, userID, fmt.Sprintf("track:%s artist:%s", p.Title, p.Artist), 5)
		if err != nil {
			return b.replyForError(ctx, msg, err)
		}
		best := selectBestTrack(candidates, p)
		if best == nil {
			continue
		}
		uris = append(uris, best.URI)
	}
	if len(uris) == 0 {
		return b.reply(ctx, msg, "None of the suggested tracks were found on Spotify. Try another vibe.")
	}

	profile, err := b.client.Me(ctx, userID)
	if err != nil {
		return b.replyForError(ctx, msg, err)
	}

	name := mixName(vibe)
	playlist, err := b.client.CreatePlaylist(ctx, userID, profile.ID, name, "Generated by Spotigram for: "+vibe)
	if err != nil {
		return b.replyForError(ctx, msg, err)
	}
	if err := b.client.AddTracks(ctx, userID, playlist.ID, uris); err != nil {
		return b.replyForError(ctx, msg, err)
	}

	return b.reply(ctx, msg, fmt.Sprintf("Done! <b>%s</b> with %d tracks:\n%s",
		html.EscapeString(name), len(uris), playlist.ExternalURLs.Spotify))
}

// localUserID resolves the local user for a Telegram sender, refreshing the
// stored profile fields along the way.
func (b *Bot) localUserID(ctx context.Context, msg *Message) (int64, error) {
	profile := store.UserProfile{TelegramID: msg.From.ID}
	if msg.From.Username != "" {
		v := msg.From.Username
		profile.Username = &v
	}
	if msg.From.FirstName != "" {
		v := msg.From.FirstName
		profile.FirstName = &v
	}
	if msg.From.LastName != "" {
		v := msg.From.LastName
		profile.LastName = &v
	}

	user, err := b.users.Ensure(ctx, profile)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

// replyForError translates the error taxonomy into user guidance. Raw
// errors never reach the chat.
func (b *Bot) replyForError(ctx context.Context, msg *Message, err error) error {
	switch {
	case errors.Is(err, apperror.ErrNotLinked):
		return b.reply(ctx, msg, "No Spotify account linked yet. Use /link to connect one.")
	case errors.Is(err, apperror.ErrReauthorizationRequired):
		return b.reply(ctx, msg, "Your Spotify session expired. Use /link to connect again.")
	case errors.Is(err, apperror.ErrTransient):
		return b.reply(ctx, msg, "Spotify is not responding right now, please try again in a moment.")
	default:
		if rerr := b.reply(ctx, msg, "Something went wrong, please try again."); rerr != nil {
			return rerr
		}
		return err
	}
}

// selectBestTrack picks the catalog hit that actually matches the planned
// track: exact title containment with a matching artist first, then a
// two-word title overlap, then the first playable result.
func selectBestTrack(candidates []spotify.Track, planned planner.PlannedTrack) *spotify.Track {
	title := strings.ToLower(planned.Title)
	artist := strings.ToLower(planned.Artist)

	artistMatches := func(track *spotify.Track) bool {
		for _, a := range track.Artists {
			if strings.Contains(strings.ToLower(a.Name), artist) {
				return true
			}
		}
		return false
	}

	for i := range candidates {
		c := &candidates[i]
		if c.URI == "" {
			continue
		}
		if strings.Contains(strings.ToLower(c.Name), title) && artistMatches(c) {
			return c
		}
	}

	for i := range candidates {
		c := &candidates[i]
		if c.URI == "" {
			continue
		}
		if sharedWords(title, strings.ToLower(c.Name)) >= 2 && artistMatches(c) {
			return c
		}
	}

	for i := range candidates {
		if candidates[i].URI != "" {
			return &candidates[i]
		}
	}
	return nil
}

func sharedWords(a, b string) int {
	words := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		words[w] = true
	}
	n := 0
	for _, w := range strings.Fields(b) {
		if words[w] {
			n++
			words[w] = false
		}
	}
	return n
}

func artistNames(track *spotify.Track) string {
	names := make([]string, 0, len(track.Artists))
	for _, a := range track.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

func mixName(vibe string) string {
	const maxLen = 60
	name := "Mix: " + vibe
	// Truncate on runes so a multi-byte vibe never yields broken UTF-8.
	if runes := []rune(name); len(runes) > maxLen {
		name = string(runes[:maxLen])
	}
	return name
}
