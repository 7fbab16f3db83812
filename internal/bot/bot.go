package bot

import (
	"context"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/avelens/spotigram/internal/config"
	"github.com/avelens/spotigram/internal/planner"
	"github.com/avelens/spotigram/internal/spotify"
	"github.com/avelens/spotigram/internal/store"
)

// Bot is the Telegram front end. It long-polls for commands and talks to
// the Spotify client, planner and stores; it never touches tokens directly.
type Bot struct {
	api        *TelegramAPI
	users      *store.Users
	creds      *store.Credentials
	quotas     *store.Quotas
	client     *spotify.Client
	planner    *planner.Planner
	baseURL    string
	dailyQuota int
	pollWait   int
	limiter    *userLimiter
}

// New creates the bot
func New(cfg *config.Config, users *store.Users, creds *store.Credentials, quotas *store.Quotas, client *spotify.Client, pl *planner.Planner) *Bot {
	return &Bot{
		api:        NewTelegramAPI(cfg.Telegram.BotToken),
		users:      users,
		creds:      creds,
		quotas:     quotas,
		client:     client,
		planner:    pl,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		dailyQuota: cfg.Planner.DailyQuota,
		pollWait:   cfg.Telegram.PollTimeout,
		// One expensive command every 10 seconds with a burst of 3.
		limiter: newUserLimiter(rate.Every(10*time.Second), 3),
	}
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	log.Println("Bot: polling for updates")

	var offset int64
	for {
		select {
		case <-ctx.Done():
			log.Println("Bot: stopped")
			return
		default:
		}

		updates, err := b.api.GetUpdates(ctx, offset, b.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Bot: stopped")
				return
			}
			log.Printf("Bot: getUpdates failed: %v", err)
			time.Sleep(3 * time.Second)
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil || update.Message.From == nil || update.Message.From.IsBot {
				continue
			}
			// Each message gets its own goroutine so one user's slow
			// command never stalls anyone else's. The stores and the
			// token manager are safe under concurrent use.
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Bot: panic handling message in chat %d: %v", msg.Chat.ID, rec)
		}
	}()

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	command, args, _ := strings.Cut(text, " ")
	// Commands may arrive as /cmd@botname in group chats.
	command, _, _ = strings.Cut(command, "@")
	args = strings.TrimSpace(args)

	// Bound each command so a wedged upstream call cannot leak the goroutine.
	cctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	var err error
	switch command {
	case "/start", "/help":
		err = b.handleStart(cctx, msg)
	case "/link":
		err = b.handleLink(cctx, msg)
	case "/disconnect":
		err = b.handleDisconnect(cctx, msg)
	case "/now":
		err = b.handleNow(cctx, msg)
	case "/play":
		err = b.handlePlay(cctx, msg)
	case "/pause":
		err = b.handlePause(cctx, msg)
	case "/next":
		err = b.handleNext(cctx, msg)
	case "/prev":
		err = b.handlePrev(cctx, msg)
	case "/devices":
		err = b.handleDevices(cctx, msg, args)
	case "/search":
		err = b.handleSearch(cctx, msg, args)
	case "/mix":
		err = b.handleMix(cctx, msg, args)
	default:
		err = b.reply(cctx, msg, "Unknown command. Try /help.")
	}

	if err != nil {
		log.Printf("Bot: command %s failed for chat %d: %v", command, msg.Chat.ID, err)
	}
}

func (b *Bot) reply(ctx context.Context, msg *Message, text string) error {
	return b.api.SendMessage(ctx, msg.Chat.ID, text)
}
