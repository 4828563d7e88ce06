package browser

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
)

// state is the session blob layout: browser cookies plus the local storage
// of the origins that were open when it was exported.
type state struct {
	Cookies []*proto.NetworkCookie `json:"cookies"`
	Origins []originStorage        `json:"origins,omitempty"`
}

type originStorage struct {
	Origin       string            `json:"origin"`
	LocalStorage map[string]string `json:"localStorage"`
}

// decodeState returns nil, nil for an empty blob.
func decodeState(blob []byte) (*state, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var st state
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}

func (s *state) cookieParams() []*proto.NetworkCookieParam {
	return proto.CookiesToParams(s.Cookies)
}

// restoreScript returns JS that seeds local storage for the matching origin
// before any page script runs.
func (o originStorage) restoreScript() (string, error) {
	origin, err := json.Marshal(o.Origin)
	if err != nil {
		return "", err
	}
	items, err := json.Marshal(o.LocalStorage)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	if (location.origin !== %s) return;
	for (const [k, v] of Object.entries(%s)) {
		try { localStorage.setItem(k, v); } catch (e) {}
	}
})()`, origin, items), nil
}
