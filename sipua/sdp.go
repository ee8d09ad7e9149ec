package sipua

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// Media directions as they appear in SDP attributes.
const (
	DirectionSendRecv = "sendrecv"
	DirectionSendOnly = "sendonly"
	DirectionRecvOnly = "recvonly"
	DirectionInactive = "inactive"
)

func isDirection(key string) bool {
	switch key {
	case DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive:
		return true
	}
	return false
}

// withDirection rewrites every media section of raw to carry dir and bumps
// the origin version so the peer treats it as a new offer.
func withDirection(raw, dir string) (string, error) {
	if !isDirection(dir) {
		return "", fmt.Errorf("unknown media direction %q", dir)
	}
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return "", fmt.Errorf("parse sdp: %w", err)
	}
	for _, md := range desc.MediaDescriptions {
		attrs := make([]sdp.Attribute, 0, len(md.Attributes)+1)
		for _, a := range md.Attributes {
			if !isDirection(a.Key) {
				attrs = append(attrs, a)
			}
		}
		md.Attributes = append(attrs, sdp.NewPropertyAttribute(dir))
	}
	desc.Origin.SessionVersion++

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp: %w", err)
	}
	return string(out), nil
}

// mediaDirection returns the direction of the first media section, sendrecv
// when none is given.
func mediaDirection(raw string) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return "", fmt.Errorf("parse sdp: %w", err)
	}
	for _, md := range desc.MediaDescriptions {
		for _, a := range md.Attributes {
			if isDirection(a.Key) {
				return a.Key, nil
			}
		}
	}
	for _, a := range desc.Attributes {
		if isDirection(a.Key) {
			return a.Key, nil
		}
	}
	return DirectionSendRecv, nil
}
