package wire

// This file holds the JSON payload shapes carried inside Dispatch frame "d" fields (and the matching HTTP request/
// response bodies where the same shape is reused). None of these types inspect cipher content; "Cipher"/"Message"
// fields are always opaque strings copied verbatim from the sender.

// IdentifyData is the client→server Opcode Identify payload.
type IdentifyData struct {
	AccessToken string `json:"access_token"`
}

// ResumeData is the client→server Opcode Resume payload.
type ResumeData struct {
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
	LastSeq     int64  `json:"last_seq"`
}

// SendDirectMessageData is the send_direct_message payload. Exactly one of the plaintext-compat wrapper at the
// client layer or the hybrid envelope is carried in Cipher; the server treats it as opaque either way.
type SendDirectMessageData struct {
	To     string `json:"to"`
	Cipher string `json:"cipher"`
}

// PrivateMessageData is the private_message broadcast payload.
type PrivateMessageData struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Cipher string `json:"cipher"`
	Ts     int64  `json:"ts"`
}

// FetchOfflinePMsData is the fetch_offline_pms request payload.
type FetchOfflinePMsData struct {
	FromUser string `json:"from_user"`
	Peek     bool   `json:"peek"`
}

// OfflinePMItem is one item in a fetch_offline_pms response.
type OfflinePMItem struct {
	ID     string `json:"id"`
	Cipher string `json:"cipher"`
	Ts     int64  `json:"ts"`
}

// MissedPMSummaryEntry is one entry in the missed_pm_summary payload.
type MissedPMSummaryEntry struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

// SendMessageData is the send_message (room) request payload. Exactly one of Message or Cipher is set.
type SendMessageData struct {
	Room    string  `json:"room"`
	Message *string `json:"message,omitempty"`
	Cipher  *string `json:"cipher,omitempty"`
}

// ChatMessageData is the chat_message broadcast payload. When the original send carried Cipher, Message is a fixed
// placeholder string rather than the ciphertext's plaintext stand-in for it.
type ChatMessageData struct {
	Room      string `json:"room"`
	Username  string `json:"username"`
	MessageID string `json:"message_id"`
	Message   string `json:"message,omitempty"`
	Cipher    string `json:"cipher,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ChatMessagePlaceholder is transmitted in Message when Cipher is present, per §4.3.
const ChatMessagePlaceholder = "[encrypted message]"

// ReactToMessageData is the react_to_message request payload.
type ReactToMessageData struct {
	Room      string `json:"room"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MessageReactionsData is the message_reactions broadcast payload.
type MessageReactionsData struct {
	Room      string         `json:"room"`
	MessageID string         `json:"message_id"`
	Counts    map[string]int `json:"counts"`
}

// JoinData is the join (room) request payload.
type JoinData struct {
	Room string `json:"room"`
}

// RoomUsersData is the room_users response payload.
type RoomUsersData struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// RoomCountsEntry is one entry of the room_counts payload.
type RoomCountsEntry struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

// RoomPolicyStateData is the room_policy_state broadcast payload.
type RoomPolicyStateData struct {
	Room            string  `json:"room"`
	Locked          bool    `json:"locked"`
	Readonly        bool    `json:"readonly"`
	SlowmodeSeconds int     `json:"slowmode_seconds"`
	CanSend         bool    `json:"can_send"`
	BlockReason     *string `json:"block_reason,omitempty"`
	SetBy           string  `json:"set_by,omitempty"`
	Ts              int64   `json:"ts"`
}

// RoomForcedLeaveData is the room_forced_leave broadcast payload.
type RoomForcedLeaveData struct {
	Room   string `json:"room"`
	Reason string `json:"reason"`
}

// SlowmodeStateData is the slowmode_state broadcast payload.
type SlowmodeStateData struct {
	Room            string `json:"room"`
	SlowmodeSeconds int    `json:"slowmode_seconds"`
}

// GroupMessageData is the group_message request/broadcast payload, reusing the room send shape.
type GroupMessageData struct {
	GroupID   int64   `json:"group_id"`
	Username  string  `json:"username,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
	Message   *string `json:"message,omitempty"`
	Cipher    *string `json:"cipher,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// FriendRequestData names the target of a friend-request operation.
type FriendRequestData struct {
	Username string `json:"username"`
}

// FriendRecord is one entry of a friends_list payload.
type FriendRecord struct {
	Username string `json:"username"`
	Since    int64  `json:"since"`
}

// SetMyPresenceData is the set_my_presence request payload.
type SetMyPresenceData struct {
	Presence     string  `json:"presence"`
	CustomStatus *string `json:"custom_status,omitempty"`
}

// PresenceData is the my_presence / friend_presence_update payload.
type PresenceData struct {
	Username     string  `json:"username"`
	Presence     string  `json:"presence"`
	CustomStatus *string `json:"custom_status,omitempty"`
	LastSeen     int64   `json:"last_seen"`
}

// VoiceDMInviteData covers voice_dm_invite/accept/decline/end payloads.
type VoiceDMInviteData struct {
	CallID string `json:"call_id"`
	Peer   string `json:"peer,omitempty"`
}

// VoiceDMSDPData covers voice_dm_offer/answer payloads.
type VoiceDMSDPData struct {
	CallID string `json:"call_id"`
	SDP    string `json:"sdp"`
}

// VoiceDMIceData covers voice_dm_ice payloads.
type VoiceDMIceData struct {
	CallID    string `json:"call_id"`
	Candidate string `json:"candidate"`
}

// VoiceDMEndData covers voice_dm_end payloads.
type VoiceDMEndData struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

// VoiceRoomJoinData is the voice_room_join request payload.
type VoiceRoomJoinData struct {
	Room string `json:"room"`
}

// VoiceRoomRosterData is the voice_room_join success response / voice_room_user_joined broadcast payload.
type VoiceRoomRosterData struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
	Limit int      `json:"limit"`
}

// VoiceRoomUserLeftData is the voice_room_user_left broadcast payload.
type VoiceRoomUserLeftData struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// VoiceRoomForcedLeaveData is the voice_room_forced_leave broadcast payload.
type VoiceRoomForcedLeaveData struct {
	Room   string `json:"room"`
	Reason string `json:"reason"`
	Limit  int    `json:"limit"`
}

// VoiceRoomSDPData covers voice_room_offer/answer relaying, addressed to a specific peer.
type VoiceRoomSDPData struct {
	Room string `json:"room"`
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	SDP  string `json:"sdp"`
}

// VoiceRoomIceData covers voice_room_ice relaying.
type VoiceRoomIceData struct {
	Room      string `json:"room"`
	To        string `json:"to"`
	From      string `json:"from,omitempty"`
	Candidate string `json:"candidate"`
}

// P2PFileOfferData is the p2p_file_offer payload.
type P2PFileOfferData struct {
	TransferID string `json:"transfer_id"`
	To         string `json:"to"`
	From       string `json:"from,omitempty"`
	Meta       any    `json:"meta"`
}

// P2PFileAnswerData is the p2p_file_answer payload.
type P2PFileAnswerData struct {
	TransferID string `json:"transfer_id"`
	SDP        string `json:"sdp,omitempty"`
}

// P2PFileDeclineData is the p2p_file_decline payload.
type P2PFileDeclineData struct {
	TransferID string `json:"transfer_id"`
	Reason     string `json:"reason,omitempty"`
}

// P2PFileIceData is the p2p_file_ice payload.
type P2PFileIceData struct {
	TransferID string `json:"transfer_id"`
	Candidate  string `json:"candidate"`
}

// AuthErrorData is the auth_error payload, emitted when identify/resume fails.
type AuthErrorData struct {
	Reason string `json:"reason"`
}

// ForceLogoutData is the force_logout / admin_force_logout payload. UserID addresses the connections that must be
// dropped; SessionID scopes the drop to a single session when only one of a user's sessions was terminated.
type ForceLogoutData struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// GlobalAnnouncementData is the global_announcement payload.
type GlobalAnnouncementData struct {
	Message string `json:"message"`
	Ts      int64  `json:"ts"`
}

// ErrorData is the error event payload. InReplyTo names the client→server event that was rejected; Code is one of the
// apierrors.Code kinds, carried as a string so this package does not import apierrors.
type ErrorData struct {
	InReplyTo string `json:"in_reply_to,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// RoomListEntry is one entry of the room_list response payload.
type RoomListEntry struct {
	Name            string `json:"name"`
	Category        string `json:"category"`
	Subcategory     string `json:"subcategory,omitempty"`
	Visibility      string `json:"visibility"`
	Flag18Plus      bool   `json:"flag_18_plus"`
	FlagNSFW        bool   `json:"flag_nsfw"`
	Locked          bool   `json:"locked"`
	Readonly        bool   `json:"readonly"`
	SlowmodeSeconds int    `json:"slowmode_seconds"`
	UserCount       int    `json:"user_count"`
}

// GroupRosterData is the join_group_chat success response / get_group_members response payload.
type GroupRosterData struct {
	GroupID int64    `json:"group_id"`
	Members []string `json:"members"`
}

// GroupHistoryData is the get_group_history response payload.
type GroupHistoryData struct {
	GroupID  int64              `json:"group_id"`
	Messages []GroupMessageData `json:"messages"`
}

// UserProfileData is the get_user_profile response payload.
type UserProfileData struct {
	Username  string `json:"username"`
	CreatedAt int64  `json:"created_at"`
	IsFriend  bool   `json:"is_friend"`
}

// PendingFriendRequestEntry is one entry of the pending_friend_requests payload.
type PendingFriendRequestEntry struct {
	Username    string `json:"username"`
	RequestedAt int64  `json:"requested_at"`
}

// BlockedUsersListData is the blocked_users_list response payload.
type BlockedUsersListData struct {
	Users []string `json:"users"`
}
