package peerprotocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	var infoHash, peerID [20]byte
	copy(infoHash[:], []byte("\x11\x22abcdefghijklmnopq"))
	copy(peerID[:], []byte("-SS0001-abcdefghijkl"))

	h := NewHandshakeMessage(infoHash, peerID, true)
	require.True(h.SupportsExtensions())

	var buf bytes.Buffer
	require.NoError(h.WriteTo(&buf))
	require.Equal(HandshakeLen, buf.Len())

	got, err := ReadHandshake(&buf)
	require.NoError(err)
	require.Equal(infoHash, got.InfoHash)
	require.Equal(peerID, got.PeerID)
	require.True(got.SupportsExtensions())
}

func TestCoreMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	msgs := []Message{
		ChokeMessage{},
		UnchokeMessage{},
		InterestedMessage{},
		HaveMessage{Index: 7},
		RequestMessage{Index: 1, Begin: 16384, Length: 16384},
		PieceMessage{Index: 1, Begin: 0, Data: []byte("hello")},
		CancelMessage{Index: 1, Begin: 16384, Length: 16384},
	}
	for _, m := range msgs {
		var buf bytes.Buffer
		require.NoError(WriteMessage(&buf, m))
		got, err := ReadMessage(&buf, nil)
		require.NoError(err)
		require.Equal(m, got)
	}
}

func TestKeepalive(t *testing.T) {
	require := require.New(t)
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	m, err := ReadMessage(buf, nil)
	require.NoError(err)
	require.Nil(m)
}

func TestExtensionHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	hs := ExtensionHandshakeMessage{
		M:            map[string]ExtensionMessageID{ExtensionKeyMetadata: 1, ExtensionKeyPEX: 2},
		MetadataSize: 1234,
	}
	var buf bytes.Buffer
	require.NoError(WriteMessage(&buf, ExtensionMessage{ExtendedMessageID: ExtensionHandshakeID, Payload: hs}))

	got, err := ReadMessage(&buf, nil)
	require.NoError(err)
	em, ok := got.(ExtensionMessage)
	require.True(ok)
	decoded, ok := em.Payload.(ExtensionHandshakeMessage)
	require.True(ok)
	require.EqualValues(1234, decoded.MetadataSize)
	require.EqualValues(1, decoded.M[ExtensionKeyMetadata])
}

func TestMetadataDataMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	data := bytes.Repeat([]byte{0xAB}, 100)
	var buf bytes.Buffer
	require.NoError(WriteMessage(&buf, ExtensionMessage{
		ExtendedMessageID: 5,
		Payload:           MetadataPiece{Piece: 0, TotalSize: 100, Data: data},
	}))

	names := ExtensionIDNames{5: ExtensionKeyMetadata}
	got, err := ReadMessage(&buf, names)
	require.NoError(err)
	em := got.(ExtensionMessage)
	mp := em.Payload.(MetadataPiece)
	require.Equal(100, mp.TotalSize)
	require.Equal(data, mp.Data)
}
