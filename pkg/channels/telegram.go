package channels

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/linxiaolu/xiaolubot/pkg/bus"
	"github.com/linxiaolu/xiaolubot/pkg/config"
	"github.com/linxiaolu/xiaolubot/pkg/correlator"
)

// TelegramChannel mirrors Telegram group chats onto the bus. It is a
// synchronous transport: Send reports its result to the correlator as
// soon as the API call returns.
type TelegramChannel struct {
	BaseChannel
	Config *config.TelegramConfig

	corr    *correlator.Correlator
	bot     *tgbotapi.BotAPI
	running bool
}

// NewTelegramChannel creates a new TelegramChannel.
func NewTelegramChannel(cfg *config.TelegramConfig, messageBus *bus.MessageBus, corr *correlator.Correlator) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
		corr:   corr,
	}
}

func (c *TelegramChannel) Name() string {
	return "telegram"
}

func (c *TelegramChannel) Start() error {
	if !c.Config.Enabled || c.Config.Token == "" {
		return nil
	}

	var err error
	c.bot, err = tgbotapi.NewBotAPI(c.Config.Token)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized on account %s", c.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.bot.GetUpdatesChan(u)
	c.running = true

	go func() {
		for update := range updates {
			if !c.running {
				break
			}
			if update.Message == nil {
				continue
			}
			c.handleUpdate(update)
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop() error {
	c.running = false
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	return nil
}

// Send delivers one composed payload to a Telegram group and resolves
// the correlator with the outcome.
func (c *TelegramChannel) Send(p bus.Payload) error {
	err := c.deliver(p)
	result := bus.SendResult{Echo: p.Echo, Status: "ok"}
	if err != nil {
		result.Status = "failed"
		result.Message = err.Error()
	}
	if c.corr != nil && p.Echo != "" {
		c.corr.Resolve(result)
	}
	return err
}

func (c *TelegramChannel) deliver(p bus.Payload) error {
	if c.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID, err := strconv.ParseInt(p.GroupID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %s", p.GroupID)
	}

	var text strings.Builder
	var replyTo int
	var filePath string
	for _, seg := range p.Segments {
		switch seg.Type {
		case "text":
			text.WriteString(seg.Text())
		case "at":
			if target, _ := seg.Data["qq"].(string); target != "" {
				fmt.Fprintf(&text, "@%s ", target)
			}
		case "reply":
			if id, _ := seg.Data["id"].(string); id != "" {
				replyTo, _ = strconv.Atoi(id)
			}
		case "file", "image":
			filePath, _ = seg.Data["file"].(string)
		default:
			log.Printf("telegram: unsupported segment type %s", seg.Type)
		}
	}

	if filePath != "" {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(filePath))
		doc.Caption = text.String()
		_, err = c.bot.Send(doc)
		return err
	}
	if text.Len() == 0 {
		return nil
	}

	reply := tgbotapi.NewMessage(chatID, text.String())
	if replyTo != 0 {
		reply.ReplyToMessageID = replyTo
	}
	_, err = c.bot.Send(reply)
	return err
}

func (c *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.UserName != "" {
		senderID = fmt.Sprintf("%s|%s", senderID, msg.From.UserName)
	}
	if !c.IsAllowed(senderID) {
		return
	}

	name := msg.From.FirstName
	if name == "" {
		name = msg.From.UserName
	}

	segments := c.buildSegments(msg)
	if len(segments) == 0 {
		return
	}

	c.Bus.PublishInbound(bus.Envelope{
		Channel:          c.Name(),
		ConversationType: "group",
		GroupID:          strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:         senderID,
		SenderName:       name,
		SenderRole:       "member",
		Timestamp:        time.Unix(int64(msg.Date), 0),
		MessageID:        strconv.Itoa(msg.MessageID),
		Segments:         segments,
	})
}

func (c *TelegramChannel) buildSegments(msg *tgbotapi.Message) []bus.Segment {
	var segments []bus.Segment

	text := msg.Text
	if msg.Caption != "" {
		text = msg.Caption
	}
	if text != "" {
		segments = append(segments, bus.TextSegment(text))
	}

	if len(msg.Photo) > 0 {
		// Largest size is last.
		fileID := msg.Photo[len(msg.Photo)-1].FileID
		if url, err := c.bot.GetFileDirectURL(fileID); err == nil {
			segments = append(segments, bus.Segment{
				Type: "image",
				Data: map[string]interface{}{"url": url, "sub_type": 0},
			})
		} else {
			log.Printf("telegram: resolve photo url failed: %v", err)
		}
	}
	if msg.Sticker != nil {
		if url, err := c.bot.GetFileDirectURL(msg.Sticker.FileID); err == nil {
			segments = append(segments, bus.Segment{
				Type: "image",
				Data: map[string]interface{}{"url": url, "sub_type": 1},
			})
		}
	}
	return segments
}
