package signal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"signalbet/internal/config"
	"signalbet/internal/models"
)

type telegramAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	GetUpdates(ctx context.Context, params *telego.GetUpdatesParams) ([]telego.Update, error)
}

// TelegramCollector long-polls the Bot API for messages and channel posts.
// Private chats are ignored.
type TelegramCollector struct {
	API      telegramAPI
	Logger   *zap.Logger
	Keywords []string

	Interval     time.Duration
	LongPollSecs int
	Limit        int

	mu       sync.Mutex
	offset   int
	lastPoll *time.Time
	lastErr  *string
	received int64
	stopCh   chan struct{}
}

// NewTelegramCollector builds a collector on a telego bot.
func NewTelegramCollector(token string, cfg config.TelegramConfig, logger *zap.Logger) (*TelegramCollector, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: bot token is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bot, err := telego.NewBot(token, telego.WithLogger(logger.Named("telego").Sugar()))
	if err != nil {
		return nil, err
	}
	return &TelegramCollector{
		API:          bot,
		Logger:       logger,
		Keywords:     cfg.ActionKeywords,
		Interval:     cfg.PollInterval,
		LongPollSecs: cfg.LongPollSecs,
		Limit:        cfg.UpdateLimit,
	}, nil
}

func (c *TelegramCollector) Name() string { return "telegram" }

// TestConnection checks the token with getMe and returns the bot username.
func (c *TelegramCollector) TestConnection(ctx context.Context) (string, error) {
	if c == nil || c.API == nil {
		return "", errors.New("telegram: collector not configured")
	}
	me, err := c.API.GetMe(ctx)
	if err != nil {
		return "", err
	}
	if me == nil {
		return "", errors.New("telegram: empty getMe response")
	}
	return me.Username, nil
}

func (c *TelegramCollector) Start(ctx context.Context, out chan<- Envelope) error {
	if c == nil || c.API == nil {
		return nil
	}
	interval := c.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	c.mu.Lock()
	if c.stopCh == nil {
		c.stopCh = make(chan struct{})
	}
	stopCh := c.stopCh
	c.mu.Unlock()

	if _, err := c.TestConnection(ctx); err != nil {
		c.setRun(time.Now().UTC(), err)
		c.logWarn("telegram getMe failed", err)
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := c.pollOnce(ctx, out); err != nil && ctx.Err() == nil {
			c.logWarn("telegram poll failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-t.C:
		}
	}
}

// pollOnce fetches one batch of updates and forwards the usable ones.
func (c *TelegramCollector) pollOnce(ctx context.Context, out chan<- Envelope) (int, error) {
	limit := c.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()

	updates, err := c.API.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:         offset,
		Limit:          limit,
		Timeout:        c.LongPollSecs,
		AllowedUpdates: []string{"message", "channel_post"},
	})
	now := time.Now().UTC()
	if err != nil {
		c.setRun(now, err)
		return 0, err
	}

	sent := 0
	for _, u := range updates {
		c.mu.Lock()
		if u.UpdateID >= c.offset {
			c.offset = u.UpdateID + 1
		}
		c.mu.Unlock()

		msg := u.Message
		if msg == nil {
			msg = u.ChannelPost
		}
		env, ok := c.envelope(msg)
		if !ok {
			continue
		}
		select {
		case out <- env:
			sent++
		case <-ctx.Done():
			c.setRun(now, nil)
			return sent, ctx.Err()
		}
	}
	c.mu.Lock()
	c.received += int64(sent)
	c.mu.Unlock()
	c.setRun(now, nil)
	return sent, nil
}

func (c *TelegramCollector) envelope(msg *telego.Message) (Envelope, bool) {
	if msg == nil {
		return Envelope{}, false
	}
	chatType := models.ChannelType(msg.Chat.Type)
	switch chatType {
	case models.ChannelTypeChannel, models.ChannelTypeGroup, models.ChannelTypeSupergroup:
	default:
		return Envelope{}, false
	}
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if strings.TrimSpace(content) == "" {
		return Envelope{}, false
	}

	channelID := ChannelID(msg.Chat.ID)
	name := strings.TrimSpace(msg.Chat.Title)
	if name == "" {
		name = "Canal " + channelID
	}
	sender := name
	if msg.From != nil && strings.TrimSpace(msg.From.FirstName) != "" {
		sender = strings.TrimSpace(msg.From.FirstName)
	}
	raw, _ := json.Marshal(msg)

	return Envelope{
		Channel: models.Channel{
			ID:       channelID,
			Name:     name,
			Username: msg.Chat.Username,
			Type:     chatType,
			Active:   true,
		},
		Message: models.Message{
			ID:        MessageID(msg.Chat.ID, msg.MessageID),
			ChannelID: channelID,
			Sender:    sender,
			Content:   content,
			HasAction: HasAction(content, c.Keywords),
			Raw:       datatypes.JSON(raw),
			Timestamp: time.Unix(msg.Date, 0).UTC(),
		},
	}, true
}

func (c *TelegramCollector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	return nil
}

func (c *TelegramCollector) Health() HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := "ok"
	if c.lastPoll == nil {
		status = "unknown"
	} else if c.lastErr != nil {
		status = "degraded"
	}
	return HealthStatus{
		Status:     status,
		LastPollAt: c.lastPoll,
		LastError:  c.lastErr,
		Details: map[string]any{
			"offset":   c.offset,
			"received": c.received,
		},
	}
}

func (c *TelegramCollector) setRun(at time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPoll = &at
	if err != nil {
		msg := err.Error()
		c.lastErr = &msg
		return
	}
	c.lastErr = nil
}

func (c *TelegramCollector) logWarn(msg string, err error) {
	if c.Logger == nil {
		return
	}
	c.Logger.Warn(msg, zap.String("collector", c.Name()), zap.Error(err))
}
