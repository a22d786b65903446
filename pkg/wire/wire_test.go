package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripScalarFields(t *testing.T) {
	w := NewWriter()
	w.WriteByte(0x42)
	w.WriteUint32(0xDEADBEEF)
	w.WriteInt64(1<<50 + 12345)
	w.WriteString("héllo 世界")
	w.WriteData([]byte{1, 2, 3, 4, 5})
	body := w.Finish()[4:]

	r := NewReader(body)

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), b)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<50+12345), i64)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "héllo 世界", s)

	data, err := r.ReadData()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, data)

	assert.Equal(t, 0, r.Remaining())
}

func TestEmptyStringRoundTrips(t *testing.T) {
	w := NewWriter()
	w.WriteString("")
	r := NewReader(w.Finish()[4:])
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestReadBeyondAvailableBytesFails(t *testing.T) {
	r := NewReader([]byte{0, 0})
	_, err := r.ReadUint32()
	assert.Error(t, err)
}

func TestFinishStampsLengthExclusiveOfPrefix(t *testing.T) {
	w := NewWriter()
	w.WriteByte(1)
	w.WriteUint32(7)
	buf := w.Finish()
	length := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	assert.Equal(t, uint32(len(buf)-4), length)
}

func TestAttrRoundTrip(t *testing.T) {
	a := &Attr{
		HasSize: true, Size: 1234,
		HasUIDGID: true, UID: 501, GID: 20,
		HasPerms: true, Perms: 0o755,
		HasACModTime: true, Atime: 111, Mtime: 222,
		Extended: []ExtendedPair{{Key: "k", Value: "v"}},
	}
	w := NewWriter()
	w.WriteAttr(a)
	r := NewReader(w.Finish()[4:])
	got, err := r.ReadAttr()
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestWithoutUIDGIDStripsOwnerFields(t *testing.T) {
	a := &Attr{HasUIDGID: true, UID: 1, GID: 2, HasSize: true, Size: 99}
	stripped := a.WithoutUIDGID()
	assert.False(t, stripped.HasUIDGID)
	assert.True(t, stripped.HasSize)
	assert.Equal(t, uint64(99), stripped.Size)
}

func TestLoneSurrogateReplacedOnEncode(t *testing.T) {
	s := sanitizeUTF8("\xed\xa0\x80x")
	assert.NotContains(t, s, "\xed\xa0\x80")
}

func TestOpenFlagsFromStringAliases(t *testing.T) {
	cases := map[string]uint32{
		"r":  FlagRead,
		"w":  FlagWrite | FlagCreat | FlagTrunc,
		"a+": FlagRead | FlagWrite | FlagAppend | FlagCreat,
	}
	for alias, want := range cases {
		got, ok := OpenFlagsFromString(alias)
		require.True(t, ok, alias)
		assert.Equal(t, want, got, alias)
	}
	_, ok := OpenFlagsFromString("bogus")
	assert.False(t, ok)
}

func TestHandleRoundTrip(t *testing.T) {
	b := EncodeHandle(0x01020304)
	assert.Equal(t, []byte{1, 2, 3, 4}, b)
	v, ok := DecodeHandle(b)
	require.True(t, ok)
	assert.Equal(t, uint32(0x01020304), v)

	_, ok = DecodeHandle([]byte{1, 2, 3})
	assert.False(t, ok)
}
