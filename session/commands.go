package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lanchat/models"
)

const fallbackFileName = "file"

// GetMyInfo returns the local ID and display name.
func (s *Session) GetMyInfo() (id, name string) {
	return s.identity.ID(), s.identity.Name()
}

// SetMyName changes the name used by future announcements and messages.
// Blank names are ignored.
func (s *Session) SetMyName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.identity.SetName(name)

	s.mu.Lock()
	mdns := s.mdns
	s.mu.Unlock()
	mdns.SetName(name)

	s.log.Info("display name changed", zap.String("name", name))
}

// GetPeers returns the peers announced within the freshness window.
func (s *Session) GetPeers() []models.Peer {
	return s.registry.Snapshot(s.opts.FreshnessWindow, s.clock.Now())
}

// GetMessages returns the conversation with peerID in log order.
func (s *Session) GetMessages(peerID string) []models.Message {
	messages, err := s.messages.Conversation(s.identity.ID(), peerID)
	if err != nil {
		s.log.Warn("read conversation", zap.String("peer_id", peerID), zap.Error(err))
		return []models.Message{}
	}
	return messages
}

// SendMessage delivers a text message to a known peer and logs it.
//
// Any peer ever seen is a valid target, fresh or not.
func (s *Session) SendMessage(ctx context.Context, toID, content string) (models.Message, error) {
	peer, ok := s.registry.Lookup(toID)
	if !ok {
		return models.Message{}, fmt.Errorf("%w: %q", ErrUnknownPeer, toID)
	}

	msg := s.newMessage(toID, content)
	return s.deliver(ctx, peer, msg)
}

// SendFile reads filePath and delivers it to a known peer as one file message.
func (s *Session) SendFile(ctx context.Context, toID, filePath string) (models.Message, error) {
	peer, ok := s.registry.Lookup(toID)
	if !ok {
		return models.Message{}, fmt.Errorf("%w: %q", ErrUnknownPeer, toID)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %q: %w", ErrReadFile, filePath, err)
	}

	fileName := baseFileName(filePath)
	payload := base64.StdEncoding.EncodeToString(data)

	msg := s.newMessage(toID, "Sent file: "+fileName)
	msg.IsFile = true
	msg.FileName = &fileName
	msg.FilePayload = &payload
	return s.deliver(ctx, peer, msg)
}

func (s *Session) newMessage(toID, content string) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		FromID:    s.identity.ID(),
		FromName:  s.identity.Name(),
		ToID:      toID,
		Content:   content,
		Timestamp: s.clock.Now().UnixMilli(),
	}
}

func (s *Session) deliver(ctx context.Context, peer models.Peer, msg models.Message) (models.Message, error) {
	if err := s.client.Send(ctx, peer.Addr(), msg); err != nil {
		s.log.Warn("send failed",
			zap.String("peer_id", peer.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return models.Message{}, fmt.Errorf("send to %q: %w", peer.ID, err)
	}

	if err := s.messages.Append(msg); err != nil {
		return models.Message{}, fmt.Errorf("log sent message: %w", err)
	}
	s.metrics.MessagesLogged.Inc()

	if s.opts.OnMessageSent != nil {
		s.opts.OnMessageSent(msg)
	}
	return msg, nil
}

func baseFileName(filePath string) string {
	name := filepath.Base(filePath)
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return fallbackFileName
	}
	return name
}
