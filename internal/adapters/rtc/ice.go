package rtc

import "github.com/pion/webrtc/v4"

// ICEServer is the configured form of a STUN or TURN server.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Configuration builds the peer configuration handed to browsers. Servers
// without URLs are skipped; an empty list falls back to a public STUN server.
func Configuration(servers []ICEServer) webrtc.Configuration {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		ice := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			ice.Credential = s.Credential
		}
		out = append(out, ice)
	}
	if len(out) == 0 {
		out = defaultICEServers
	}
	return webrtc.Configuration{ICEServers: out}
}
