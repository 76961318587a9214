package access

// Policy decides who may trigger playback and who may administer the bot.
type Policy interface {
	// AllowsPlayback is the gate applied before speaking.
	AllowsPlayback(channelID, userID string) bool
	// AllowsAdmin reports whether userID may run administrative commands.
	AllowsAdmin(userID string) bool
}

// AllowListPolicy gates playback on the store's channel and user allow-lists.
// A non-empty SuperUserID restricts administrative commands to that user.
type AllowListPolicy struct {
	Store       *Store
	SuperUserID string
}

// AllowsPlayback requires both the channel and the user to be allow-listed.
func (p AllowListPolicy) AllowsPlayback(channelID, userID string) bool {
	return p.Store.IsChannelAllowed(channelID) && p.Store.IsUserAllowed(userID)
}

// AllowsAdmin admits everyone unless SuperUserID is set.
func (p AllowListPolicy) AllowsAdmin(userID string) bool {
	return p.SuperUserID == "" || p.SuperUserID == userID
}

// FixedRoomPolicy only plays text posted in one chat room, optionally only
// from one user. The store's allow-lists are not consulted.
type FixedRoomPolicy struct {
	ChannelID   string
	SuperUserID string
}

// AllowsPlayback admits text from ChannelID, and only SuperUserID's when set.
func (p FixedRoomPolicy) AllowsPlayback(channelID, userID string) bool {
	if channelID != p.ChannelID {
		return false
	}
	return p.SuperUserID == "" || p.SuperUserID == userID
}

// AllowsAdmin admits everyone unless SuperUserID is set.
func (p FixedRoomPolicy) AllowsAdmin(userID string) bool {
	return p.SuperUserID == "" || p.SuperUserID == userID
}
