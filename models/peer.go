package models

import (
	"net"
	"strconv"
	"time"
)

// Peer represents a remote node seen through discovery.
type Peer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	IP       string    `json:"ip"`
	Port     int       `json:"port"`
	LastSeen time.Time `json:"last_seen"`
}

// Addr returns the peer's message transport address as "host:port".
func (p Peer) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// FreshAt reports whether the peer was seen less than window before now.
func (p Peer) FreshAt(window time.Duration, now time.Time) bool {
	return now.Sub(p.LastSeen) < window
}
