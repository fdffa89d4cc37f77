package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultDiscoveryPort is the well-known UDP port announcements are sent to.
	DefaultDiscoveryPort = 45677
	// MaxAnnouncementSize bounds one announcement datagram.
	MaxAnnouncementSize = 4096
)

// ErrInvalidAnnouncement indicates a datagram that is not a usable announcement.
var ErrInvalidAnnouncement = errors.New("discovery: invalid announcement")

// Announcement advertises a node's id, display name and message port.
type Announcement struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Port int    `json:"port"`
}

// EncodeAnnouncement marshals an announcement for broadcast.
func EncodeAnnouncement(a Announcement) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal announcement: %w", err)
	}
	if len(payload) > MaxAnnouncementSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidAnnouncement, len(payload), MaxAnnouncementSize)
	}
	return payload, nil
}

// DecodeAnnouncement parses and validates one announcement datagram.
func DecodeAnnouncement(payload []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrInvalidAnnouncement, err)
	}
	if strings.TrimSpace(a.ID) == "" {
		return Announcement{}, fmt.Errorf("%w: missing id", ErrInvalidAnnouncement)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return Announcement{}, fmt.Errorf("%w: port %d out of range", ErrInvalidAnnouncement, a.Port)
	}
	return a, nil
}
