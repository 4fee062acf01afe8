package wire

// ClientHello is the first handshake frame (§4.1).
type ClientHello struct {
	ClientEphemeralPub string `json:"client_ephemeral_pub"`
	NonceC             string `json:"nonce_c"`
}

// ServerHello is the relay's response to ClientHello (§4.1).
type ServerHello struct {
	ServerEphemeralPub string `json:"server_ephemeral_pub"`
	ServerIdentityPub  string `json:"server_identity_pub"`
	ServerSignature    string `json:"server_signature"`
	NonceS             string `json:"nonce_s"`
}

// ClientAuth is the client's mutual-authentication frame (§4.1).
type ClientAuth struct {
	UserID          string `json:"user_id"`
	DeviceID        string `json:"device_id"`
	ClientSignature string `json:"client_signature"`
	NonceC2         string `json:"nonce_c2"`
}

// SessionEstablished confirms a completed handshake (§4.1).
type SessionEstablished struct {
	DeviceID         string `json:"device_id"`
	LastAckDeviceSeq uint64 `json:"last_ack_device_seq"`
	ExpiresAt        int64  `json:"expires_at"`
}

// SessionExpiringSoon signals the pre-expiry rotation window (§4.2).
type SessionExpiringSoon struct {
	ExpiresInSeconds int64 `json:"expires_in_seconds"`
	ExpiresAt        int64 `json:"expires_at"`
}

// FullResyncRequired signals the client must discard local state (§4.2).
type FullResyncRequired struct {
	Reason         string `json:"reason"`
	Recommendation string `json:"recommendation"`
}

// Error carries a typed failure reported by the relay (§6).
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
