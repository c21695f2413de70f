package side

import (
	"fmt"
	"strings"
)

// Side is the kind of instance being synced.
type Side string

const (
	Client Side = "client"
	Server Side = "server"
)

// Parse normalizes s to a Side. Empty input means Client.
func Parse(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Client):
		return Client, nil
	case string(Server):
		return Server, nil
	default:
		return "", fmt.Errorf("invalid side %q (want client or server)", s)
	}
}

// WantsOverrides reports whether client override archives apply.
func (s Side) WantsOverrides() bool { return s == Client }

// WantsExtension reports whether the optional launch variants are installed.
// Dedicated servers have no launcher profiles to add them to.
func (s Side) WantsExtension() bool { return s == Client }

func (s Side) String() string { return string(s) }
