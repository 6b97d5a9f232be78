package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validFrame() ChatFrame {
	return ChatFrame{
		UserID:          "42",
		Username:        "alice123",
		Text:            "hello room",
		ClientTimestamp: "2026-08-03T12:00:00Z",
		Kind:            KindText,
	}
}

func TestValidateFrame_Valid(t *testing.T) {
	require.NoError(t, ValidateFrame(validFrame()))
}

func TestValidateFrame_UserID(t *testing.T) {
	cases := []string{"", "0", "100001", "abc", "-1"}
	for _, uid := range cases {
		f := validFrame()
		f.UserID = uid
		require.Error(t, ValidateFrame(f), "userId=%q should be rejected", uid)
	}
}

func TestValidateFrame_Username(t *testing.T) {
	cases := []string{"ab", "this-username-is-way-too-long-ok", "bad user", "bad!name"}
	for _, u := range cases {
		f := validFrame()
		f.Username = u
		require.Error(t, ValidateFrame(f), "username=%q should be rejected", u)
	}
}

func TestValidateFrame_Text(t *testing.T) {
	f := validFrame()
	f.Text = ""
	require.Error(t, ValidateFrame(f))

	f = validFrame()
	f.Text = stringOfLen(501)
	require.Error(t, ValidateFrame(f))
}

func TestValidateFrame_Timestamp(t *testing.T) {
	f := validFrame()
	f.ClientTimestamp = "not-a-timestamp"
	require.Error(t, ValidateFrame(f))
}

func TestValidateFrame_Kind(t *testing.T) {
	f := validFrame()
	f.Kind = "PING"
	require.Error(t, ValidateFrame(f))

	for _, k := range []Kind{KindText, KindJoin, KindLeave} {
		f := validFrame()
		f.Kind = k
		require.NoError(t, ValidateFrame(f))
	}
}

func TestValidRoom(t *testing.T) {
	require.True(t, ValidRoom(1, 20))
	require.True(t, ValidRoom(20, 20))
	require.False(t, ValidRoom(0, 20))
	require.False(t, ValidRoom(21, 20))
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
