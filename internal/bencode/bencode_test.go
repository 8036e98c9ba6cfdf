package bencode

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripPrimitives(t *testing.T) {
	require := require.New(t)

	cases := []struct {
		desc string
		v    interface{}
		want string
	}{
		{"string", "spam", "4:spam"},
		{"empty string", "", "0:"},
		{"positive int", 3, "i3e"},
		{"zero", 0, "i0e"},
		{"negative int", -3, "i-3e"},
		{"list", []interface{}{"spam", "eggs"}, "l4:spam4:eggse"},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			b, err := Marshal(c.v)
			require.NoError(err)
			require.Equal(c.want, string(b))
		})
	}
}

func TestDictKeysSortedOnEncode(t *testing.T) {
	require := require.New(t)

	type d struct {
		Zeta string `bencode:"zeta"`
		Alfa int    `bencode:"alfa"`
	}
	b, err := Marshal(d{Zeta: "z", Alfa: 1})
	require.NoError(err)
	require.Equal("d4:alfai1e4:zeta1:ze", string(b))
}

func TestDecodeStruct(t *testing.T) {
	require := require.New(t)

	type announce struct {
		Interval int64  `bencode:"interval"`
		Peers    []byte `bencode:"peers"`
	}
	var a announce
	err := Unmarshal([]byte("d8:intervali1800e5:peers6:abcdefe"), &a)
	require.NoError(err)
	require.EqualValues(1800, a.Interval)
	require.Equal([]byte("abcdef"), a.Peers)
}

func TestDecodeIntoInterface(t *testing.T) {
	require := require.New(t)

	var v interface{}
	err := Unmarshal([]byte("d4:cats4:spam3:numi7ee"), &v)
	require.NoError(err)
	m, ok := v.(map[string]interface{})
	require.True(ok)
	require.Equal("spam", m["cat"+"s"])
	require.EqualValues(7, m["num"])
}

func TestMalformedInputs(t *testing.T) {
	require := require.New(t)

	bad := []string{
		"i-0e",            // negative zero
		"i01e",             // leading zero
		"i-e",              // bare minus
		"i1",                // unterminated int
		"-1:x",              // negative length
		"01:x",              // leading zero length
		"5:ab",              // length out of range
		"d3:key1:a3:abc1:be", // unsorted keys
		"d1:a1:x1:a1:ye",    // duplicate keys
		"li1ee" + "x",       // trailing data
		"",                  // empty input
	}
	for _, s := range bad {
		var v interface{}
		err := Unmarshal([]byte(s), &v)
		require.Error(err, "input %q should be rejected", s)
		require.ErrorIs(err, ErrMalformed)
	}
}

func TestMaxDepthRejected(t *testing.T) {
	require := require.New(t)

	s := ""
	for i := 0; i < maxDepth+2; i++ {
		s += "l"
	}
	for i := 0; i < maxDepth+2; i++ {
		s += "e"
	}
	var v interface{}
	err := Unmarshal([]byte(s), &v)
	require.ErrorIs(err, ErrMalformed)
}

func TestRawMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	type info struct {
		Name        string `bencode:"name"`
		PieceLength int64  `bencode:"piece length"`
	}
	type metaInfo struct {
		Info    RawMessage `bencode:"info"`
		Comment string     `bencode:"comment"`
	}

	infoBytes, err := Marshal(info{Name: "file.bin", PieceLength: 16384})
	require.NoError(err)

	orig := metaInfo{Info: RawMessage(infoBytes), Comment: "hello"}
	encoded, err := Marshal(orig)
	require.NoError(err)

	var decoded metaInfo
	require.NoError(Unmarshal(encoded, &decoded))
	require.Equal(infoBytes, []byte(decoded.Info))

	origHash := sha1.Sum(infoBytes)
	reencodedHash := sha1.Sum(decoded.Info)
	require.Equal(origHash, reencodedHash)

	reencoded, err := Marshal(decoded)
	require.NoError(err)
	require.Equal(encoded, reencoded)
}
