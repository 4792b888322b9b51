// Package wire defines the realtime wire protocol: gateway opcodes, dispatch event names, envelope prefixes, and the
// JSON payload shapes exchanged between client and server.
package wire

// Opcode identifies the kind of frame carried over the gateway WebSocket connection.
type Opcode int

const (
	OpcodeDispatch       Opcode = 0 // server→client event delivery
	OpcodeHeartbeat      Opcode = 1 // client→server keepalive
	OpcodeIdentify       Opcode = 2 // client→server auth handshake
	OpcodeHeartbeatACK   Opcode = 3 // server→client keepalive ack
	OpcodeHello          Opcode = 4 // server→client handshake parameters
	OpcodeResume         Opcode = 5 // client→server session resume
	OpcodeReconnect      Opcode = 6 // server→client "reconnect and resume"
	OpcodeInvalidSession Opcode = 7 // server→client resume rejected
)
