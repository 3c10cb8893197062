// Package bot handles the primary account's incoming messages: media sent to
// it in private is mirrored into the archive channel and answered with
// streaming links.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/arclight-labs/streamgate/internal/api"
	"github.com/arclight-labs/streamgate/internal/config"
	"github.com/arclight-labs/streamgate/internal/logger"
	"github.com/arclight-labs/streamgate/internal/tgc"
)

const usageText = "Send me any media file and I will reply with a direct " +
	"streaming link and a browser preview link. The links serve byte ranges, " +
	"so they work in media players and download managers."

// Intake dispatches the primary account's updates. Unlike the streaming path,
// this surface is allowed to sleep through short flood waits and retry.
type Intake struct {
	cfg    *config.Config
	pool   *tgc.Pool
	logger *logger.Logger

	dispatcher tg.UpdateDispatcher
}

func New(cfg *config.Config, pool *tgc.Pool, log *logger.Logger) *Intake {
	i := &Intake{
		cfg:    cfg,
		pool:   pool,
		logger: log.WithComponent("bot"),
	}
	d := tg.NewUpdateDispatcher()
	d.OnNewMessage(i.onNewMessage)
	i.dispatcher = d
	return i
}

// Handler returns the update handler to install on the primary session.
func (i *Intake) Handler() telegram.UpdateHandler {
	return i.dispatcher
}

func (i *Intake) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	peerUser, ok := msg.PeerID.(*tg.PeerUser)
	if !ok {
		// Group chatter is none of our business.
		return nil
	}
	user, ok := e.Users[peerUser.UserID]
	if !ok {
		return nil
	}
	reply := &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}

	log := i.logger.With(slog.Int64("user_id", user.ID), slog.Int("message_id", msg.ID))

	if strings.HasPrefix(msg.Message, "/start") || strings.HasPrefix(msg.Message, "/help") {
		return i.sendText(ctx, reply, usageText)
	}
	if msg.Media == nil {
		return i.sendText(ctx, reply, "That is not a media file. "+usageText)
	}

	primary, ok := i.pool.Primary()
	if !ok {
		return errors.New("primary session not available")
	}

	archivedID, err := i.archive(ctx, primary, reply, msg.ID)
	if err != nil {
		log.Error("failed to archive upload", slog.String("error", err.Error()))
		return i.sendText(ctx, reply, "Something went wrong while saving your file, please try again.")
	}

	desc, err := primary.Describe(ctx, archivedID)
	if err != nil {
		log.Error("failed to describe archived upload",
			slog.Int("archived_id", archivedID),
			slog.String("error", err.Error()))
		return i.sendText(ctx, reply, "Something went wrong while saving your file, please try again.")
	}

	hash := api.HashFor(desc.UniqueID)
	text := fmt.Sprintf("%s\n\nDownload: %s\nWatch: %s",
		desc.FileName,
		api.BuildURL(i.cfg.PublicURL, archivedID, hash),
		api.BuildWatchURL(i.cfg.PublicURL, archivedID, hash))

	log.Info("upload archived",
		slog.Int("archived_id", archivedID),
		slog.String("file_name", desc.FileName),
		slog.Int64("file_size", desc.FileSize))
	return i.sendText(ctx, reply, text)
}

// archive forwards the user's message into the archive channel and returns
// the resulting channel message ID. A short flood wait is slept through once;
// anything longer is an error.
func (i *Intake) archive(ctx context.Context, s *tgc.Session, from *tg.InputPeerUser, messageID int) (int, error) {
	peer, err := s.ArchivePeer(ctx)
	if err != nil {
		return 0, err
	}
	to := &tg.InputPeerChannel{ChannelID: peer.ChannelID, AccessHash: peer.AccessHash}

	forward := func() (tg.UpdatesClass, error) {
		return s.API().MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer: from,
			ID:       []int{messageID},
			RandomID: []int64{rand.Int63()},
			ToPeer:   to,
		})
	}

	updates, err := forward()
	if err != nil {
		wait, ok := tgerr.AsFloodWait(err)
		if !ok || wait > time.Duration(i.cfg.SleepThreshold)*time.Second {
			return 0, err
		}
		i.logger.Warn("flood wait on forward, sleeping", slog.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		if updates, err = forward(); err != nil {
			return 0, err
		}
	}

	id, ok := forwardedMessageID(updates)
	if !ok {
		return 0, errors.New("forward produced no channel message")
	}
	return id, nil
}

// forwardedMessageID digs the new channel message ID out of the forward
// call's update box.
func forwardedMessageID(u tg.UpdatesClass) (int, bool) {
	var list []tg.UpdateClass
	switch v := u.(type) {
	case *tg.Updates:
		list = v.Updates
	case *tg.UpdatesCombined:
		list = v.Updates
	}
	for _, upd := range list {
		channelMsg, ok := upd.(*tg.UpdateNewChannelMessage)
		if !ok {
			continue
		}
		if msg, ok := channelMsg.Message.(*tg.Message); ok {
			return msg.ID, true
		}
	}
	return 0, false
}

func (i *Intake) sendText(ctx context.Context, peer tg.InputPeerClass, text string) error {
	primary, ok := i.pool.Primary()
	if !ok {
		return errors.New("primary session not available")
	}
	_, err := primary.API().MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   text,
		RandomID:  rand.Int63(),
		NoWebpage: true,
	})
	return err
}
