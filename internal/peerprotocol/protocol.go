// Package peerprotocol implements the BEP 3 peer wire messages and the BEP
// 10 extension protocol framing used over an established peer connection.
package peerprotocol

import "errors"

// VersionString and PstrLen are the handshake protocol identifier.
const (
	PstrLen       = 19
	VersionString = "BitTorrent protocol"
	HandshakeLen  = 1 + PstrLen + 8 + 20 + 20
)

// ExtensionBitIndex is the reserved-byte bit, counted from the MSB of the
// first reserved byte (so byte 5, mask 0x08), that this module sets and
// tests to advertise BEP 10 support in the handshake.
const ExtensionBitIndex = 44

// FastExtensionBitIndex advertises BEP 6 (Fast Extension) support. We set
// this bit for compatibility with peers that check it before sending
// have-all/have-none, but do not implement the Fast Extension messages
// themselves.
const FastExtensionBitIndex = 61

// MessageID identifies a core BEP 3 message.
type MessageID byte

// Core message ids.
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Extension     MessageID = 20
)

// ErrUnknownMessageType is returned for an unrecognized core message id,
// which the connection must treat as illegal traffic and close.
var ErrUnknownMessageType = errors.New("peerprotocol: unknown message id")

// ExtensionMessageID identifies a BEP 10 sub-protocol by the name both
// sides agreed on in their extension handshakes.
type ExtensionMessageID byte

// ExtensionHandshakeID is always 0 on the wire, reserved for the handshake
// itself; real sub-protocol ids start at 1 and are assigned per connection.
const ExtensionHandshakeID ExtensionMessageID = 0

// Extension key names as advertised in the "m" dict of the handshake.
const (
	ExtensionKeyMetadata = "ut_metadata"
	ExtensionKeyPEX      = "ut_pex"
)

// Metadata message types (ut_metadata, BEP 9).
const (
	ExtensionMetadataMessageTypeRequest = 0
	ExtensionMetadataMessageTypeData    = 1
	ExtensionMetadataMessageTypeReject  = 2
)

// MaxRequestBlockSize bounds a single request/piece payload; a bigger
// request is illegal traffic per the connection's policy.
const MaxRequestBlockSize = 128 * 1024

// MaxAllowedBlockSize is the conventional block size most implementations
// request in, used to size default pipeline budgets.
const MaxAllowedBlockSize = 16 * 1024
