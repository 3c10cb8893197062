package tgc

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/arclight-labs/streamgate/internal/errdefs"
	"github.com/arclight-labs/streamgate/internal/metadata"
)

// bareChannelID strips the bot-API channel marker, -100 followed by the raw
// ID, down to the MTProto channel ID.
func bareChannelID(id int64) int64 {
	if id < 0 {
		id = -id
	}
	const marker = 1_000_000_000_000
	if id > marker {
		id -= marker
	}
	return id
}

// channelPeer resolves the archive channel to an input peer with access hash.
// The resolution is cached for the session's lifetime; access hashes are
// stable per account.
func (s *Session) channelPeer(ctx context.Context) (*tg.InputChannel, error) {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()
	if s.peer != nil {
		return s.peer, nil
	}

	raw := bareChannelID(s.cfg.BinChannel)
	res, err := s.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: raw},
	})
	if err != nil {
		return nil, fmt.Errorf("resolve archive channel: %w", err)
	}

	var chats []tg.ChatClass
	switch c := res.(type) {
	case *tg.MessagesChats:
		chats = c.Chats
	case *tg.MessagesChatsSlice:
		chats = c.Chats
	}
	for _, chat := range chats {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == raw {
			s.peer = &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
			return s.peer, nil
		}
	}
	return nil, fmt.Errorf("archive channel %d not accessible to session %d", raw, s.id)
}

// GetMessage fetches one archived message. Errors are classified so that the
// streaming engine can tell a propagation delay from a flood wait from a dead
// connection.
func (s *Session) GetMessage(ctx context.Context, messageID int) (*tg.Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	peer, err := s.channelPeer(callCtx)
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	res, err := s.api.ChannelsGetMessages(callCtx, &tg.ChannelsGetMessagesRequest{
		Channel: peer,
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}},
	})
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	msgs, ok := res.(*tg.MessagesChannelMessages)
	if !ok {
		return nil, &errdefs.TransportError{SessionID: s.id, Err: fmt.Errorf("unexpected response %T", res)}
	}
	if len(msgs.Messages) == 0 {
		return nil, &errdefs.NotYetVisibleError{SessionID: s.id, MessageID: messageID}
	}
	msg, ok := msgs.Messages[0].(*tg.Message)
	if !ok {
		// MessageEmpty: the message has not propagated to this session's
		// datacenter yet, or it was deleted. Treated as the former; the
		// blindness window expires either way.
		return nil, &errdefs.NotYetVisibleError{SessionID: s.id, MessageID: messageID}
	}
	return msg, nil
}

// classify maps an upstream RPC failure onto the gateway's error taxonomy.
// Context errors caused by the caller are passed through untouched.
func (s *Session) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &errdefs.RateLimitedError{SessionID: s.id, RetryAfter: wait}
	}
	var notVisible *errdefs.NotYetVisibleError
	if errors.As(err, &notVisible) {
		return err
	}
	return &errdefs.TransportError{SessionID: s.id, Err: err}
}

// Describe fetches the message and distills its media into a descriptor.
func (s *Session) Describe(ctx context.Context, messageID int) (*metadata.Descriptor, error) {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	desc, err := describeMessage(msg)
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// describeMessage extracts size, name, mime, kind, and a stable opaque ID
// from a message's media. Messages without streamable media resolve to
// ErrNotFound.
func describeMessage(msg *tg.Message) (*metadata.Descriptor, error) {
	d := &metadata.Descriptor{MessageID: msg.ID}

	switch media := msg.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.AsNotEmpty()
		if !ok {
			return nil, errdefs.ErrNotFound
		}
		d.FileSize = doc.Size
		d.MimeType = doc.MimeType
		d.UniqueID = opaqueFileID(doc.ID, doc.AccessHash)
		d.MediaKind = documentKind(doc.Attributes)
		for _, attr := range doc.Attributes {
			if name, ok := attr.(*tg.DocumentAttributeFilename); ok {
				d.FileName = name.FileName
			}
		}
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.AsNotEmpty()
		if !ok {
			return nil, errdefs.ErrNotFound
		}
		_, size := largestPhotoSize(photo)
		d.FileSize = int64(size)
		d.UniqueID = opaqueFileID(photo.ID, photo.AccessHash)
		d.MediaKind = metadata.KindPhoto
	default:
		return nil, errdefs.ErrNotFound
	}

	d.FillSynthesized()
	return d, nil
}

// documentKind classifies a document by its attribute set. Animations carry
// both a video and an animated attribute, so the flags are collected before
// deciding.
func documentKind(attrs []tg.DocumentAttributeClass) metadata.MediaKind {
	var video, animated, round, voice, audio, sticker bool
	for _, attr := range attrs {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			video = true
			round = a.RoundMessage
		case *tg.DocumentAttributeAnimated:
			animated = true
		case *tg.DocumentAttributeAudio:
			audio = true
			voice = a.Voice
		case *tg.DocumentAttributeSticker:
			sticker = true
		}
	}
	switch {
	case animated:
		return metadata.KindAnimation
	case round:
		return metadata.KindVideoNote
	case video:
		return metadata.KindVideo
	case voice:
		return metadata.KindVoice
	case audio:
		return metadata.KindAudio
	case sticker:
		return metadata.KindSticker
	default:
		return metadata.KindDocument
	}
}

// largestPhotoSize returns the type tag and byte size of the biggest
// renderable size of a photo.
func largestPhotoSize(photo *tg.Photo) (string, int) {
	var bestType string
	var bestSize int
	for _, sz := range photo.Sizes {
		switch s := sz.(type) {
		case *tg.PhotoSize:
			if s.Size > bestSize {
				bestType, bestSize = s.Type, s.Size
			}
		case *tg.PhotoSizeProgressive:
			max := 0
			for _, n := range s.Sizes {
				if n > max {
					max = n
				}
			}
			if max > bestSize {
				bestType, bestSize = s.Type, max
			}
		}
	}
	return bestType, bestSize
}

// fileLocation builds the download location for a message's media.
func fileLocation(msg *tg.Message) (tg.InputFileLocationClass, error) {
	switch media := msg.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.AsNotEmpty()
		if !ok {
			return nil, errdefs.ErrNotFound
		}
		return doc.AsInputDocumentFileLocation(), nil
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.AsNotEmpty()
		if !ok {
			return nil, errdefs.ErrNotFound
		}
		thumb, _ := largestPhotoSize(photo)
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumb,
		}, nil
	default:
		return nil, errdefs.ErrNotFound
	}
}

// opaqueFileID derives a stable, URL-safe identifier from a media object's
// identity. Only its prefix stability matters; it is never decoded.
func opaqueFileID(id, accessHash int64) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(id))
	binary.BigEndian.PutUint64(buf[8:], uint64(accessHash))
	sum := sha256.Sum256(buf[:])
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
