package voice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

// ICEServer mirrors the shape a WebRTC client expects for RTCIceServer.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// TURNConfig names the public STUN server (always advertised) and an
// optional TURN server with its shared secret.
type TURNConfig struct {
	STUNURL          string
	TURNURL          string
	TURNSharedSecret string
	CredentialTTL    time.Duration
}

func (c TURNConfig) ttl() time.Duration {
	if c.CredentialTTL <= 0 {
		return time.Hour
	}
	return c.CredentialTTL
}

// ICEServers builds the ICE server list returned to a voice joiner: public
// STUN always, TURN added only when configured, with a freshly minted
// time-limited credential
// )).
func (c TURNConfig) ICEServers(userID string, now time.Time) []ICEServer {
	servers := []ICEServer{{URLs: []string{c.STUNURL}}}
	if c.TURNURL == "" || c.TURNSharedSecret == "" {
		return servers
	}
	username := fmt.Sprintf("%d:%s", now.Add(c.ttl()).Unix(), userID)
	mac := hmac.New(sha1.New, []byte(c.TURNSharedSecret))
	mac.Write([]byte(username))
	credential := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	servers = append(servers, ICEServer{
		URLs:       []string{c.TURNURL},
		Username:   username,
		Credential: credential,
	})
	return servers
}
