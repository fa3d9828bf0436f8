package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"echoai/pkg/api"
	"echoai/pkg/llm"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxPhotoBytes caps a single downloaded attachment.
const maxPhotoBytes = 20 << 20

// TelegramConfig holds the credentials for the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // Bot token from @BotFather
}

// TelegramChannel implements api.Channel for Telegram. It handles multi-modal
// reception, media group buffering (albums) and chunked response delivery.
type TelegramChannel struct {
	config       TelegramConfig
	bot          *tgbotapi.BotAPI
	messageLimit int
	mediaGroups  map[string]*mediaGroupBuffer
	httpClient   *http.Client
	mu           sync.Mutex
	stopCtx      context.Context
	stopCancel   context.CancelFunc
}

// mediaGroupBuffer collects messages sharing a MediaGroupID so multi-image
// posts reach the model as one message instead of several.
type mediaGroupBuffer struct {
	session  api.SessionContext
	content  string
	photoIDs []string
	timer    *time.Timer
}

// NewTelegramChannel authenticates against the Bot API. The bot's HTTP client
// is tied to the channel's stop context so an active long-poll request is
// aborted immediately on Stop, avoiding the 409 Conflict a restart would
// otherwise hit.
func NewTelegramChannel(cfg TelegramConfig, msgLimit int, downloadTimeoutMs int) (api.Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	botHTTPClient := &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		mediaGroups:  make(map[string]*mediaGroupBuffer),
		httpClient: &http.Client{
			Timeout: time.Duration(downloadTimeoutMs) * time.Millisecond,
		},
		stopCtx:    ctx,
		stopCancel: cancel,
	}, nil
}

// ID returns the platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start launches the long-polling loop in a background goroutine, converting
// platform updates into UnifiedMessages.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	offset := 0

	go func() {
		for {
			select {
			case <-t.stopCtx.Done():
				return
			default:
			}

			reqConfig := tgbotapi.NewUpdate(offset)
			reqConfig.Timeout = 60

			updates, err := t.bot.GetUpdates(reqConfig)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return
				default:
					slog.Debug("failed to get telegram updates", "err", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID < offset {
					continue
				}
				offset = update.UpdateID + 1

				if update.Message == nil {
					continue
				}
				t.dispatchUpdate(ctx, update.Message)
			}
		}
	}()

	return nil
}

func (t *TelegramChannel) dispatchUpdate(ctx api.ChannelContext, m *tgbotapi.Message) {
	session := api.SessionContext{
		ChannelID: "telegram",
		UserID:    strconv.FormatInt(m.From.ID, 10),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Username:  m.From.UserName,
	}

	// Largest size variant is last in the slice.
	var photoID string
	if len(m.Photo) > 0 {
		photoID = m.Photo[len(m.Photo)-1].FileID
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}

	if m.MediaGroupID != "" {
		t.handleMediaGroup(ctx, m.MediaGroupID, session, content, photoID)
		return
	}

	if photoID == "" {
		ctx.OnMessage(t.ID(), &api.UnifiedMessage{Session: session, Content: content})
		return
	}

	// Download off the update loop so a slow fetch never stalls polling.
	go func() {
		var files []api.FileAttachment
		if file, err := t.downloadPhoto(photoID); err == nil {
			files = append(files, *file)
		} else {
			slog.Error("photo download failed", "err", err)
		}
		ctx.OnMessage(t.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
			Files:   files,
		})
	}()
}

// handleMediaGroup buffers album items and flushes them as one message after
// a one second debounce window.
func (t *TelegramChannel) handleMediaGroup(ctx api.ChannelContext, groupID string, session api.SessionContext, text string, photoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.mediaGroups[groupID]
	if ok {
		if text != "" {
			if buf.content != "" {
				buf.content += "\n" + text
			} else {
				buf.content = text
			}
		}
		if photoID != "" {
			buf.photoIDs = append(buf.photoIDs, photoID)
		}
		buf.timer.Reset(time.Second)
		return
	}

	buf = &mediaGroupBuffer{
		session: session,
		content: text,
	}
	if photoID != "" {
		buf.photoIDs = append(buf.photoIDs, photoID)
	}
	t.mediaGroups[groupID] = buf

	buf.timer = time.AfterFunc(time.Second, func() {
		t.mu.Lock()
		finalBuf, exists := t.mediaGroups[groupID]
		if exists {
			delete(t.mediaGroups, groupID)
		}
		t.mu.Unlock()
		if !exists {
			return
		}

		var wg sync.WaitGroup
		files := make([]*api.FileAttachment, len(finalBuf.photoIDs))
		for i, pid := range finalBuf.photoIDs {
			wg.Add(1)
			go func(index int, id string) {
				defer wg.Done()
				file, err := t.downloadPhoto(id)
				if err != nil {
					slog.Error("media group download failed", "file_id", id, "err", err)
					return
				}
				files[index] = file
			}(i, pid)
		}
		wg.Wait()

		var attached []api.FileAttachment
		for _, f := range files {
			if f != nil {
				attached = append(attached, *f)
			}
		}

		ctx.OnMessage(t.ID(), &api.UnifiedMessage{
			Session: finalBuf.session,
			Content: finalBuf.content,
			Files:   attached,
		})
		slog.Info("media group dispatched", "group", groupID,
			"images", fmt.Sprintf("%d/%d", len(attached), len(finalBuf.photoIDs)))
	})
}

// downloadPhoto fetches one file's bytes from the Bot API file endpoint.
func (t *TelegramChannel) downloadPhoto(fileID string) (*api.FileAttachment, error) {
	fileInfo, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get photo file info: %w", err)
	}

	resp, err := t.httpClient.Get(fileInfo.Link(t.config.Token))
	if err != nil {
		return nil, fmt.Errorf("failed to download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download photo: status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read photo data: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	return &api.FileAttachment{
		Filename: fileInfo.FilePath,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

// SendSignal maps the "thinking" signal to Telegram's typing indicator.
func (t *TelegramChannel) SendSignal(session api.SessionContext, signal string) error {
	if signal != "thinking" {
		return nil
	}
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return err
	}
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, err = t.bot.Request(action)
	return err
}

// Send delivers a message, splitting it into bubbles when it exceeds the
// platform length limit. Splitting is rune based so multi-byte text never
// breaks mid-character.
func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	msgRunes := []rune(message)
	totalLen := len(msgRunes)

	if totalLen <= t.messageLimit {
		msg := tgbotapi.NewMessage(chatID, message)
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		return nil
	}

	for i := 0; i < totalLen; i += t.messageLimit {
		end := i + t.messageLimit
		if end > totalLen {
			end = totalLen
		}
		msg := tgbotapi.NewMessage(chatID, string(msgRunes[i:end]))
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send chunk failed at index %d: %w", i, err)
		}
	}

	return nil
}

func (t *TelegramChannel) sendPhoto(session api.SessionContext, block llm.ContentBlock) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return err
	}
	if block.Source == nil {
		return fmt.Errorf("image source is nil")
	}

	var photo tgbotapi.Chattable
	switch {
	case block.Source.Type == "base64" && len(block.Source.Data) > 0:
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
			Name:  "image.png",
			Bytes: block.Source.Data,
		})
	case block.Source.Type == "url":
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(block.Source.URL))
	default:
		return fmt.Errorf("unsupported image source type: %s", block.Source.Type)
	}

	_, err = t.bot.Send(photo)
	return err
}

// Stream implements the streaming protocol for Telegram. The platform cannot
// update a message mid-flight, so blocks are accumulated and flushed as
// complete bubbles: thinking first, text when the stream ends, images
// immediately in arrival order.
func (t *TelegramChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	var thinkingBuf strings.Builder
	var textBuf strings.Builder
	var thinkingSent bool

	flushThinking := func() {
		if thinkingBuf.Len() == 0 || thinkingSent {
			return
		}
		if err := t.Send(session, "💭 "+thinkingBuf.String()); err != nil {
			slog.Error("failed to send thinking", "err", err)
		}
		thinkingSent = true
	}

	for block := range blocks {
		switch block.Type {
		case llm.BlockTypeThinking:
			thinkingBuf.WriteString(block.Text)
		case llm.BlockTypeText, llm.BlockTypeError:
			flushThinking()
			textBuf.WriteString(block.Text)
		case llm.BlockTypeImage:
			// Flush pending text first to preserve ordering.
			if textBuf.Len() > 0 {
				if err := t.Send(session, textBuf.String()); err != nil {
					slog.Error("failed to send text before image", "err", err)
				}
				textBuf.Reset()
			}
			if err := t.sendPhoto(session, block); err != nil {
				slog.Error("failed to send photo", "err", err)
			}
		}
	}

	flushThinking()

	if textBuf.Len() > 0 {
		return t.Send(session, textBuf.String())
	}
	return nil
}

// Stop aborts the long-polling loop and clears pooled connections.
func (t *TelegramChannel) Stop() error {
	t.stopCancel()

	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
	return nil
}
