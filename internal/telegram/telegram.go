// Package telegram connects the bot to Telegram: it turns long-polled
// updates into inbound events, downloads referenced files, and sends replies.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/maauso/uniqualizer/internal/event"
	"github.com/maauso/uniqualizer/internal/fault"
)

const (
	// DefaultMaxDownloadBytes matches the Bot API download limit.
	DefaultMaxDownloadBytes = 20 << 20

	// Greeting is the reply to /start.
	Greeting = "Hi! Send me a text, photo or video and I will make it unique."

	messageLimit          = 4096
	actionRefreshInterval = 4 * time.Second
)

// ErrFileTooLarge is returned when a referenced file exceeds the download limit.
var ErrFileTooLarge = errors.New("file too large")

// botAPI is the subset of *telego.Bot the adapter uses.
type botAPI interface {
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

// Adapter is the Telegram event source, reply sink and file fetcher.
type Adapter struct {
	bot         botAPI
	poll        func(ctx context.Context) (<-chan telego.Update, error)
	httpClient  *http.Client
	allowFrom   map[string]struct{}
	maxDownload int64
	logger      *slog.Logger

	mu         sync.Mutex
	indicators map[int64]*indicator
}

// indicator keeps a chat action alive while requests from a chat are pending.
type indicator struct {
	pending int
	cancel  context.CancelFunc
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAllowFrom restricts accepted senders to the given user IDs.
// An empty list accepts everyone.
func WithAllowFrom(ids []string) Option {
	return func(a *Adapter) {
		a.allowFrom = allowFromSet(ids)
	}
}

// WithMaxDownloadBytes sets the largest file Fetch will download.
func WithMaxDownloadBytes(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxDownload = n
		}
	}
}

// WithHTTPClient sets the client used to download files.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// New validates the bot token and creates an Adapter.
func New(token string, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fault.New(fault.KindConfiguration, "telegram", "bot token is required", nil)
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	a := newAdapter(bot, logger, opts...)
	a.poll = func(ctx context.Context) (<-chan telego.Update, error) {
		return bot.UpdatesViaLongPolling(ctx, nil)
	}
	return a, nil
}

func newAdapter(bot botAPI, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		bot:         bot,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		maxDownload: DefaultMaxDownloadBytes,
		logger:      logger.With("component", "telegram"),
		indicators:  make(map[int64]*indicator),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run long-polls Telegram and publishes supported messages to out until ctx
// is done. It closes out before returning.
func (a *Adapter) Run(ctx context.Context, out chan<- event.Inbound) error {
	defer close(out)

	updates, err := a.poll(ctx)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			ev, ok := a.accept(ctx, update.Message)
			if !ok {
				continue
			}

			a.startIndicator(ctx, ev.ChatID, chatAction(ev.Payload))
			select {
			case out <- ev:
			case <-ctx.Done():
				a.stopIndicator(ev.ChatID)
				return nil
			}
		}
	}
}

// accept filters a message and converts it to an event. Commands are
// answered directly and never become events.
func (a *Adapter) accept(ctx context.Context, msg *telego.Message) (event.Inbound, bool) {
	if msg == nil {
		return event.Inbound{}, false
	}
	if msg.From == nil {
		a.logger.Debug("ignoring message without sender")
		return event.Inbound{}, false
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.logger.Debug("ignoring message from unauthorized sender", slog.String("sender_id", senderID))
		return event.Inbound{}, false
	}

	if cmd, ok := command(msg.Text); ok {
		if cmd == "start" {
			if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), Greeting)); err != nil {
				a.logger.Error("failed to send greeting",
					slog.Int64("chat_id", msg.Chat.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		return event.Inbound{}, false
	}

	ev, ok := toInbound(msg)
	if !ok {
		a.logger.Debug("ignoring unsupported message",
			slog.Int64("chat_id", msg.Chat.ID),
			slog.Int("message_id", msg.MessageID),
		)
		return event.Inbound{}, false
	}

	a.logger.Info("received message",
		slog.String("event_id", ev.ID),
		slog.Int64("chat_id", ev.ChatID),
		slog.String("sender_id", senderID),
		slog.String("kind", ev.Payload.Kind().String()),
	)
	return ev, true
}

// toInbound maps a Telegram message to an event. Photos use the largest
// size. Documents with an image or video MIME type are accepted as well.
func toInbound(msg *telego.Message) (event.Inbound, bool) {
	ev := event.Inbound{
		ID:     fmt.Sprintf("tg-%d-%d", msg.Chat.ID, msg.MessageID),
		ChatID: msg.Chat.ID,
	}
	if msg.From != nil {
		ev.SenderID = msg.From.ID
	}

	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		ev.Payload = event.Photo{File: event.FileRef{ID: largest.FileID, Size: int64(largest.FileSize)}}
	case msg.Video != nil:
		ev.Payload = event.Video{File: event.FileRef{ID: msg.Video.FileID, Size: int64(msg.Video.FileSize)}}
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "video/"):
		ev.Payload = event.Video{File: event.FileRef{ID: msg.Document.FileID, Size: int64(msg.Document.FileSize)}}
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		ev.Payload = event.Photo{File: event.FileRef{ID: msg.Document.FileID, Size: int64(msg.Document.FileSize)}}
	case strings.TrimSpace(msg.Text) != "":
		ev.Payload = event.Text{Body: msg.Text}
	default:
		return event.Inbound{}, false
	}
	return ev, true
}

// command extracts the command name from "/name" or "/name@bot args".
func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), true
}

// Fetch downloads the file behind ref, refusing files over the download limit.
func (a *Adapter) Fetch(ctx context.Context, ref event.FileRef) ([]byte, error) {
	if ref.Inline() {
		return ref.Data, nil
	}
	if ref.Size > a.maxDownload {
		return nil, a.tooLarge(ref.Size)
	}

	file, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: ref.ID})
	if err != nil {
		return nil, fault.New(fault.KindIO, "telegram get file", "lookup failed", err)
	}
	if int64(file.FileSize) > a.maxDownload {
		return nil, a.tooLarge(int64(file.FileSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.bot.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return nil, fault.New(fault.KindIO, "telegram download", "build request", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fault.New(fault.KindIO, "telegram download", "request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.KindIO, "telegram download", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxDownload+1))
	if err != nil {
		return nil, fault.New(fault.KindIO, "telegram download", "read body", err)
	}
	if int64(len(data)) > a.maxDownload {
		return nil, a.tooLarge(int64(len(data)))
	}

	a.logger.Debug("downloaded file", slog.String("file_id", ref.ID), slog.Int("bytes", len(data)))
	return data, nil
}

func (a *Adapter) tooLarge(size int64) error {
	return fault.New(fault.KindIO, "telegram download",
		fmt.Sprintf("%d bytes exceeds limit of %d", size, a.maxDownload), ErrFileTooLarge)
}

// Send delivers a reply and stops the chat action for its chat.
func (a *Adapter) Send(ctx context.Context, reply event.Outbound) error {
	defer a.stopIndicator(reply.Recipient)

	chatID := tu.ID(reply.Recipient)

	switch c := reply.Content.(type) {
	case event.TextMessage:
		for _, part := range splitMessage(c.Body, messageLimit) {
			if _, err := a.bot.SendMessage(ctx, tu.Message(chatID, part)); err != nil {
				return fmt.Errorf("send text: %w", err)
			}
		}
	case event.ErrorNotice:
		if _, err := a.bot.SendMessage(ctx, tu.Message(chatID, c.Message)); err != nil {
			return fmt.Errorf("send notice: %w", err)
		}
	case event.PhotoAttachment:
		photo := tu.File(tu.NameReader(bytes.NewReader(c.Data), filename(c.Filename, event.PhotoFilename)))
		if _, err := a.bot.SendPhoto(ctx, tu.Photo(chatID, photo)); err != nil {
			return fmt.Errorf("send photo: %w", err)
		}
	case event.VideoAttachment:
		video := tu.File(tu.NameReader(bytes.NewReader(c.Data), filename(c.Filename, event.VideoFilename)))
		if _, err := a.bot.SendVideo(ctx, tu.Video(chatID, video)); err != nil {
			return fmt.Errorf("send video: %w", err)
		}
	default:
		return fmt.Errorf("unsupported reply content %T", reply.Content)
	}

	a.logger.Info("sent reply",
		slog.Int64("chat_id", reply.Recipient),
		slog.String("content", fmt.Sprintf("%T", reply.Content)),
	)
	return nil
}

func filename(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// splitMessage cuts text into parts of at most limit UTF-16 code units,
// the unit Telegram measures message length in.
func splitMessage(text string, limit int) []string {
	var parts []string
	var b strings.Builder
	units := 0
	for _, r := range text {
		n := 1
		if r >= 0x10000 {
			n = 2
		}
		if units+n > limit {
			parts = append(parts, b.String())
			b.Reset()
			units = 0
		}
		b.WriteRune(r)
		units += n
	}
	if b.Len() > 0 || len(parts) == 0 {
		parts = append(parts, b.String())
	}
	return parts
}

func chatAction(p event.Payload) string {
	switch p.(type) {
	case event.Photo:
		return telego.ChatActionUploadPhoto
	case event.Video:
		return telego.ChatActionUploadVideo
	default:
		return telego.ChatActionTyping
	}
}

// startIndicator sends action to chatID and refreshes it until every
// pending request for the chat has been answered.
func (a *Adapter) startIndicator(ctx context.Context, chatID int64, action string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ind, ok := a.indicators[chatID]; ok {
		ind.pending++
		return
	}

	actionCtx, cancel := context.WithCancel(ctx)
	a.indicators[chatID] = &indicator{pending: 1, cancel: cancel}

	send := func() {
		if err := a.bot.SendChatAction(actionCtx, tu.ChatAction(tu.ID(chatID), action)); err != nil && actionCtx.Err() == nil {
			a.logger.Debug("failed to send chat action",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
		}
	}

	go func() {
		send()
		ticker := time.NewTicker(actionRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-actionCtx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()
}

func (a *Adapter) stopIndicator(chatID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ind, ok := a.indicators[chatID]
	if !ok {
		return
	}
	ind.pending--
	if ind.pending <= 0 {
		ind.cancel()
		delete(a.indicators, chatID)
	}
}

// senderAllowed checks whether a sender is permitted by the allow list.
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow list values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}
