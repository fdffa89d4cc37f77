package session

import (
	"os"
	"os/user"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FallbackDisplayName is used when neither the OS user nor the host name is known.
const FallbackDisplayName = "LAN Chat User"

// Identity is the local node as announced to peers. The ID is generated once
// per process; only the display name changes after construction.
type Identity struct {
	id string

	mu   sync.RWMutex
	name string
	port int
}

// NewIdentity creates an identity with a random ID. A blank name falls back
// to DefaultDisplayName.
func NewIdentity(name string, port int) *Identity {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultDisplayName()
	}
	return &Identity{
		id:   uuid.NewString(),
		name: name,
		port: port,
	}
}

// DefaultDisplayName returns the OS user name, then the host name, then
// FallbackDisplayName.
func DefaultDisplayName() string {
	if current, err := user.Current(); err == nil {
		if name := strings.TrimSpace(current.Username); name != "" {
			// Windows reports DOMAIN\user.
			if i := strings.LastIndex(name, `\`); i >= 0 && i < len(name)-1 {
				name = name[i+1:]
			}
			return name
		}
	}
	if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
		return strings.TrimSpace(host)
	}
	return FallbackDisplayName
}

// ID returns the per-process node ID.
func (i *Identity) ID() string {
	return i.id
}

// Name returns the current display name.
func (i *Identity) Name() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.name
}

// SetName replaces the display name used by future announcements and messages.
func (i *Identity) SetName(name string) {
	i.mu.Lock()
	i.name = name
	i.mu.Unlock()
}

// Port returns the advertised TCP message port.
func (i *Identity) Port() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.port
}

func (i *Identity) setPort(port int) {
	i.mu.Lock()
	i.port = port
	i.mu.Unlock()
}
