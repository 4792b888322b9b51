package wire

// DispatchEvent names a realtime event carried inside an Opcode Dispatch frame's "t" field. Names are normative: the
// server and client must agree on exact spelling.
type DispatchEvent string

// Client → Server events.
const (
	EventJoin                    DispatchEvent = "join"
	EventLeave                   DispatchEvent = "leave"
	EventSendMessage             DispatchEvent = "send_message"
	EventSendDirectMessage       DispatchEvent = "send_direct_message"
	EventReactToMessage          DispatchEvent = "react_to_message"
	EventFetchOfflinePMs         DispatchEvent = "fetch_offline_pms"
	EventGetMissedPMSummary      DispatchEvent = "get_missed_pm_summary"
	EventGetRooms                DispatchEvent = "get_rooms"
	EventGetUsersInRoom          DispatchEvent = "get_users_in_room"
	EventGetRoomCounts           DispatchEvent = "get_room_counts"
	EventGetFriends              DispatchEvent = "get_friends"
	EventSendFriendRequest       DispatchEvent = "send_friend_request"
	EventAcceptFriendRequest     DispatchEvent = "accept_friend_request"
	EventRejectFriendRequest     DispatchEvent = "reject_friend_request"
	EventBlockUser               DispatchEvent = "block_user"
	EventUnblockUser             DispatchEvent = "unblock_user"
	EventSetMyPresence           DispatchEvent = "set_my_presence"
	EventGetMyPresence           DispatchEvent = "get_my_presence"
	EventGetFriendPresence       DispatchEvent = "get_friend_presence"
	EventGetUserProfile          DispatchEvent = "get_user_profile"
	EventGroupMessage            DispatchEvent = "group_message"
	EventJoinGroupChat           DispatchEvent = "join_group_chat"
	EventGetGroupHistory         DispatchEvent = "get_group_history"
	EventGetGroupMembers         DispatchEvent = "get_group_members"
	EventVoiceDMInvite           DispatchEvent = "voice_dm_invite"
	EventVoiceDMAccept           DispatchEvent = "voice_dm_accept"
	EventVoiceDMDecline          DispatchEvent = "voice_dm_decline"
	EventVoiceDMOffer            DispatchEvent = "voice_dm_offer"
	EventVoiceDMAnswer           DispatchEvent = "voice_dm_answer"
	EventVoiceDMIce              DispatchEvent = "voice_dm_ice"
	EventVoiceDMEnd              DispatchEvent = "voice_dm_end"
	EventVoiceRoomJoin           DispatchEvent = "voice_room_join"
	EventVoiceRoomLeave          DispatchEvent = "voice_room_leave"
	EventVoiceRoomOffer          DispatchEvent = "voice_room_offer"
	EventVoiceRoomAnswer         DispatchEvent = "voice_room_answer"
	EventVoiceRoomIce            DispatchEvent = "voice_room_ice"
	EventP2PFileOffer            DispatchEvent = "p2p_file_offer"
	EventP2PFileAnswer           DispatchEvent = "p2p_file_answer"
	EventP2PFileDecline          DispatchEvent = "p2p_file_decline"
	EventP2PFileIce              DispatchEvent = "p2p_file_ice"
)

// Server → Client events.
const (
	EventChatMessage          DispatchEvent = "chat_message"
	EventPrivateMessage       DispatchEvent = "private_message"
	EventMissedPMSummary      DispatchEvent = "missed_pm_summary"
	EventFriendsList          DispatchEvent = "friends_list"
	EventPendingFriendReqs    DispatchEvent = "pending_friend_requests"
	EventBlockedUsersList     DispatchEvent = "blocked_users_list"
	EventFriendPresenceUpdate DispatchEvent = "friend_presence_update"
	EventFriendsPresence      DispatchEvent = "friends_presence"
	EventMyPresence           DispatchEvent = "my_presence"
	EventFriendRequest        DispatchEvent = "friend_request"
	EventFriendRequestAccept  DispatchEvent = "friend_request_accepted"
	EventNotification         DispatchEvent = "notification"
	EventUserProfile          DispatchEvent = "user_profile"
	EventGroupRoster          DispatchEvent = "group_roster"
	EventGroupHistory         DispatchEvent = "group_history"
	EventRoomList             DispatchEvent = "room_list"
	EventRoomsChanged         DispatchEvent = "rooms_changed"
	EventRoomCounts           DispatchEvent = "room_counts"
	EventRoomUsers            DispatchEvent = "room_users"
	EventRoomPolicyState      DispatchEvent = "room_policy_state"
	EventRoomForcedLeave      DispatchEvent = "room_forced_leave"
	EventSlowmodeState        DispatchEvent = "slowmode_state"
	EventMessageReactions     DispatchEvent = "message_reactions"
	EventCustomRoomInvite     DispatchEvent = "custom_room_invite"
	EventRoomInvite           DispatchEvent = "room_invite"

	EventVoiceRoomUserJoined  DispatchEvent = "voice_room_user_joined"
	EventVoiceRoomUserLeft    DispatchEvent = "voice_room_user_left"
	EventVoiceRoomForcedLeave DispatchEvent = "voice_room_forced_leave"

	EventAuthError         DispatchEvent = "auth_error"
	EventForceLogout       DispatchEvent = "force_logout"
	EventAdminForceLogout  DispatchEvent = "admin_force_logout"
	EventGlobalAnnounce    DispatchEvent = "global_announcement"

	// EventError is the generic realtime rejection event (§7): "the realtime layer never silently drops". Emitted in
	// reply to whichever client→server event triggered it, naming the apierrors.Code kind.
	EventError DispatchEvent = "error"
)
