// Package rtc checks WebRTC signaling payloads with pion before they are relayed.
package rtc

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"

	"github.com/skillshare/realtime/internal/app"
	"github.com/skillshare/realtime/internal/domain"
)

// ValidateSignal rejects offers and answers whose SDP does not parse and ICE
// candidates that are not candidate objects. Other types pass untouched.
func ValidateSignal(in *app.Inbound) error {
	switch in.Type {
	case domain.TypeOffer, domain.TypeAnswer:
		return validateDescription(in.Type, in.Payload)
	case domain.TypeICECandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(in.Payload, &c); err != nil {
			return fmt.Errorf("%w: ice candidate: %v", domain.ErrMalformed, err)
		}
		return nil
	default:
		return nil
	}
}

func validateDescription(typ string, payload []byte) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(payload, &sd); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrMalformed, typ, err)
	}
	if sd.SDP == "" {
		return fmt.Errorf("%w: %s without sdp", domain.ErrMalformed, typ)
	}
	if sd.Type != webrtc.SDPTypeUnknown && sd.Type.String() != typ {
		return fmt.Errorf("%w: %s carries sdp type %s", domain.ErrMalformed, typ, sd.Type)
	}
	if _, err := sd.Unmarshal(); err != nil {
		return fmt.Errorf("%w: %s sdp: %v", domain.ErrMalformed, typ, err)
	}
	return nil
}
