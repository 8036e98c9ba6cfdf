package peerprotocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/embertorrent/ember/internal/bencode"
)

// Message is a decoded core or extension payload, ready to be written to a
// connection by ID() and its encoded body.
type Message interface {
	ID() MessageID
}

// HaveMessage announces that the sender now holds piece Index.
type HaveMessage struct{ Index uint32 }

func (HaveMessage) ID() MessageID { return Have }

// BitfieldMessage carries the sender's full piece bitfield.
type BitfieldMessage struct{ Data []byte }

func (BitfieldMessage) ID() MessageID { return Bitfield }

// RequestMessage asks for a block: Length bytes at Begin within piece Index.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (RequestMessage) ID() MessageID { return Request }

// PieceMessage carries the bytes of a requested block.
type PieceMessage struct {
	Index, Begin uint32
	Data         []byte
}

func (PieceMessage) ID() MessageID { return Piece }

// CancelMessage withdraws a previously sent RequestMessage.
type CancelMessage struct {
	Index, Begin, Length uint32
}

func (CancelMessage) ID() MessageID { return Cancel }

// ChokeMessage, UnchokeMessage, InterestedMessage, NotInterestedMessage have
// no payload; their ID alone is the message.
type (
	ChokeMessage         struct{}
	UnchokeMessage       struct{}
	InterestedMessage    struct{}
	NotInterestedMessage struct{}
)

func (ChokeMessage) ID() MessageID         { return Choke }
func (UnchokeMessage) ID() MessageID       { return Unchoke }
func (InterestedMessage) ID() MessageID    { return Interested }
func (NotInterestedMessage) ID() MessageID { return NotInterested }

// ExtensionMessage is the BEP 10 envelope: a 1-byte extended message id
// followed by a bencoded payload (or, for ut_metadata data, bencoded
// metadata dict plus a trailing raw data block).
type ExtensionMessage struct {
	ExtendedMessageID ExtensionMessageID
	Payload           interface{}
}

func (ExtensionMessage) ID() MessageID { return Extension }

// ExtensionHandshakeMessage is the BEP 10 handshake payload (extended
// message id 0): the "m" dict maps sub-protocol name to the numeric id the
// sender wants to receive it as, plus metadata_size once known.
type ExtensionHandshakeMessage struct {
	M            map[string]ExtensionMessageID `bencode:"m"`
	MetadataSize int                           `bencode:"metadata_size,omitempty"`
	V            string                        `bencode:"v,omitempty"`
	Port         int                           `bencode:"p,omitempty"`
	YourIP       string                        `bencode:"yourip,omitempty"`
}

// NewExtensionHandshake builds the handshake we send on entering Active:
// ut_metadata always offered, ut_pex only when pexEnabled, metadataSize 0
// until we know the real info dict size.
func NewExtensionHandshake(metadataSize int, clientVersion string, yourIP net.IP, pexEnabled bool) ExtensionHandshakeMessage {
	m := map[string]ExtensionMessageID{ExtensionKeyMetadata: 1}
	if pexEnabled {
		m[ExtensionKeyPEX] = 2
	}
	h := ExtensionHandshakeMessage{
		M:            m,
		MetadataSize: metadataSize,
		V:            clientVersion,
	}
	if yourIP != nil {
		if ip4 := yourIP.To4(); ip4 != nil {
			h.YourIP = string(ip4)
		}
	}
	return h
}

// ExtensionMetadataMessage is a ut_metadata (BEP 9) request/data/reject.
type ExtensionMetadataMessage struct {
	Type  int `bencode:"msg_type"`
	Piece int `bencode:"piece"`
	// TotalSize is only present on Data messages.
	TotalSize int `bencode:"total_size,omitempty"`
}

// ExtensionPEXMessage is a ut_pex (peer exchange) delta message: compact
// IPv4 endpoints added/dropped since the previous message.
type ExtensionPEXMessage struct {
	Added   []byte `bencode:"added"`
	AddedF  []byte `bencode:"added.f,omitempty"`
	Dropped []byte `bencode:"dropped"`
}

// MetadataPiece is a ut_metadata Data message, as written by WriteMessage
// and as returned by ReadMessage: a bencoded
// {msg_type, piece, total_size} dict immediately followed by the raw
// metadata block itself (BEP 9 does not nest the block inside the dict).
type MetadataPiece struct {
	Piece     int
	TotalSize int
	Data      []byte
}

// ExtensionIDNames maps the extended message id a peer chose for each
// sub-protocol in its handshake (the id set is per-direction and per-
// connection, so the caller must thread in what it negotiated).
type ExtensionIDNames map[ExtensionMessageID]string

// ReadMessage reads one length-prefixed core/extension message from r.
// length 0 is a keepalive and is reported as (nil, nil). names resolves an
// incoming extended message id to the sub-protocol name the peer's
// handshake assigned it, so the metadata/pex payloads can be decoded.
func ReadMessage(r io.Reader, names ExtensionIDNames) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, nil // keepalive
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	id := MessageID(body[0])
	payload := body[1:]
	switch id {
	case Choke:
		return ChokeMessage{}, nil
	case Unchoke:
		return UnchokeMessage{}, nil
	case Interested:
		return InterestedMessage{}, nil
	case NotInterested:
		return NotInterestedMessage{}, nil
	case Have:
		if len(payload) != 4 {
			return nil, fmt.Errorf("peerprotocol: invalid have length %d", len(payload))
		}
		return HaveMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case Bitfield:
		return BitfieldMessage{Data: payload}, nil
	case Request:
		if len(payload) != 12 {
			return nil, fmt.Errorf("peerprotocol: invalid request length %d", len(payload))
		}
		return RequestMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case Piece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("peerprotocol: invalid piece length %d", len(payload))
		}
		return PieceMessage{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Data:  payload[8:],
		}, nil
	case Cancel:
		if len(payload) != 12 {
			return nil, fmt.Errorf("peerprotocol: invalid cancel length %d", len(payload))
		}
		return CancelMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case Extension:
		if len(payload) < 1 {
			return nil, fmt.Errorf("peerprotocol: empty extension message")
		}
		extID := ExtensionMessageID(payload[0])
		rest := payload[1:]
		if extID == ExtensionHandshakeID {
			var hs ExtensionHandshakeMessage
			if err := bencode.Unmarshal(rest, &hs); err != nil {
				return nil, fmt.Errorf("peerprotocol: invalid extension handshake: %w", err)
			}
			return ExtensionMessage{ExtendedMessageID: extID, Payload: hs}, nil
		}
		switch names[extID] {
		case ExtensionKeyMetadata:
			var md ExtensionMetadataMessage
			consumed, err := bencode.UnmarshalPrefix(rest, &md)
			if err != nil {
				return nil, fmt.Errorf("peerprotocol: invalid ut_metadata message: %w", err)
			}
			if md.Type == ExtensionMetadataMessageTypeData {
				return ExtensionMessage{ExtendedMessageID: extID, Payload: MetadataPiece{
					Piece:     md.Piece,
					TotalSize: md.TotalSize,
					Data:      rest[consumed:],
				}}, nil
			}
			return ExtensionMessage{ExtendedMessageID: extID, Payload: md}, nil
		case ExtensionKeyPEX:
			var pex ExtensionPEXMessage
			if err := bencode.Unmarshal(rest, &pex); err != nil {
				return nil, fmt.Errorf("peerprotocol: invalid ut_pex message: %w", err)
			}
			return ExtensionMessage{ExtendedMessageID: extID, Payload: pex}, nil
		default:
			return ExtensionMessage{ExtendedMessageID: extID, Payload: rest}, nil
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, id)
	}
}

// WriteMessage writes m to w in length-prefixed wire form.
func WriteMessage(w io.Writer, m Message) error {
	var body []byte
	switch v := m.(type) {
	case ChokeMessage, UnchokeMessage, InterestedMessage, NotInterestedMessage:
		body = []byte{byte(m.ID())}
	case HaveMessage:
		body = append([]byte{byte(Have)}, be32(v.Index)...)
	case BitfieldMessage:
		body = append([]byte{byte(Bitfield)}, v.Data...)
	case RequestMessage:
		body = append([]byte{byte(Request)}, be32(v.Index)...)
		body = append(body, be32(v.Begin)...)
		body = append(body, be32(v.Length)...)
	case PieceMessage:
		body = append([]byte{byte(Piece)}, be32(v.Index)...)
		body = append(body, be32(v.Begin)...)
		body = append(body, v.Data...)
	case CancelMessage:
		body = append([]byte{byte(Cancel)}, be32(v.Index)...)
		body = append(body, be32(v.Begin)...)
		body = append(body, be32(v.Length)...)
	case ExtensionMessage:
		var payload []byte
		if mp, ok := v.Payload.(MetadataPiece); ok {
			dict, err := bencode.Marshal(ExtensionMetadataMessage{
				Type:      ExtensionMetadataMessageTypeData,
				Piece:     mp.Piece,
				TotalSize: mp.TotalSize,
			})
			if err != nil {
				return err
			}
			payload = append(dict, mp.Data...)
		} else {
			var err error
			payload, err = bencode.Marshal(v.Payload)
			if err != nil {
				return err
			}
		}
		body = append([]byte{byte(Extension), byte(v.ExtendedMessageID)}, payload...)
	default:
		return fmt.Errorf("peerprotocol: cannot encode message of type %T", m)
	}
	lenBuf := be32(uint32(len(body)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func be32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}
