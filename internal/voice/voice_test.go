package voice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJoinTriggersQualityWarningOverSoftCap(t *testing.T) {
	r := NewRooms(0)
	var last *JoinResult
	for i := 0; i < 9; i++ {
		res, err := r.Join("ch1", Participant{UserID: userID(i)})
		require.NoError(t, err)
		last = res
	}
	require.True(t, last.OverSoftCap)
	require.Len(t, last.Participants, 9)
}

func TestJoinRespectsHardCap(t *testing.T) {
	r := NewRooms(2)
	_, err := r.Join("ch1", Participant{UserID: "a"})
	require.NoError(t, err)
	_, err = r.Join("ch1", Participant{UserID: "b"})
	require.NoError(t, err)
	_, err = r.Join("ch1", Participant{UserID: "c"})
	require.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinAutoLeavesPreviousChannel(t *testing.T) {
	r := NewRooms(0)
	_, err := r.Join("ch1", Participant{UserID: "a"})
	require.NoError(t, err)

	res, err := r.Join("ch2", Participant{UserID: "a"})
	require.NoError(t, err)
	require.Equal(t, "ch1", res.LeftChannel)
	require.Empty(t, r.Participants("ch1"))
}

func TestLeaveReapsEmptyChannel(t *testing.T) {
	r := NewRooms(0)
	_, _ = r.Join("ch1", Participant{UserID: "a"})
	empty := r.Leave("ch1", "a")
	require.True(t, empty)
}

func TestTURNCredentialsVerifiable(t *testing.T) {
	cfg := TURNConfig{STUNURL: "stun:stun.example.com:3478", TURNURL: "turn:turn.example.com:3478", TURNSharedSecret: "s3cr3t", CredentialTTL: time.Hour}
	now := time.Unix(1_700_000_000, 0)
	servers := cfg.ICEServers("user-1", now)
	require.Len(t, servers, 2)
	turn := servers[1]
	require.NotEmpty(t, turn.Username)
	require.NotEmpty(t, turn.Credential)

	require.Equal(t, "1700003600:user-1", turn.Username)
	mac := hmac.New(sha1.New, []byte(cfg.TURNSharedSecret))
	mac.Write([]byte(turn.Username))
	require.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), turn.Credential)
}

func userID(i int) string {
	return string(rune('a' + i))
}
