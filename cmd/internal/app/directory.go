package app

import (
	"context"

	"courier/cmd/identity"
	"courier/cmd/internal/chat"
)

// identityDirectory adapts the identity store to the chat core's
// UserDirectory. The chat stores themselves never read user rows; this is
// the only bridge between the two domains.
type identityDirectory struct {
	store identity.Store
}

func (d identityDirectory) Profiles(ctx context.Context, ids []int64) (map[int64]chat.UserProfile, error) {
	users, err := d.store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]chat.UserProfile, len(users))
	for id, u := range users {
		out[id] = chat.UserProfile{
			UserID:      u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			AvatarURL:   u.AvatarURL,
			IsOnline:    u.IsOnline,
		}
	}
	return out, nil
}
