package httpserver

import (
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/streamview/signal-relay/internal/config"
	"github.com/streamview/signal-relay/internal/turnrest"
)

// handleICEServers returns the ICE configuration browsers should use for
// their PeerConnections. When TURN REST minting is configured, TURN entries
// are stamped with fresh ephemeral credentials on every request.
//
// An optional ?clientId= binds the minted credentials to a signaling
// connection id so TURN usage is attributable per peer.
func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}

	var expiresAt int64
	if s.turnMinter != nil {
		creds, err := s.mintTURNCredentials(r.URL.Query().Get("clientId"))
		if err != nil {
			s.log.Error("failed to mint turn credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "ice configuration unavailable"})
			return
		}
		servers = withTURNCredentials(servers, creds.Username, creds.Credential)
		expiresAt = creds.ExpiryUnix
	}

	resp := map[string]any{"iceServers": servers}
	if expiresAt != 0 {
		resp["expiresAt"] = expiresAt
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) mintTURNCredentials(clientID string) (turnrest.Credentials, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" || strings.Contains(clientID, ":") {
		return s.turnMinter.MintRandom()
	}
	return s.turnMinter.Mint(clientID)
}

// withTURNCredentials copies the server list, stamping username/credential
// onto every entry that carries a turn:/turns: URL. STUN-only entries are
// left untouched.
func withTURNCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if config.HasTURNURL(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}
