package call

import (
	"fmt"
	"strings"
)

// DeviceInfo identifies the hardware the engine runs on.
type DeviceInfo struct {
	Manufacturer string
	Model        string
}

// RoutingPolicy selects the speech stream per manufacturer. Some vendors
// drop TTS output routed to the voice-call stream, so they are sent to
// media from the start.
type RoutingPolicy struct {
	Default        AudioStream
	ByManufacturer map[string]AudioStream // keys are upper-case
}

var mediaStreamVendors = []string{
	"HONOR", "HUAWEI", "HISILICON",
	"XIAOMI", "REDMI", "POCO",
	"OPPO", "REALME", "VIVO", "ONEPLUS",
	"MEIZU",
}

// DefaultRoutingPolicy is the built-in table.
func DefaultRoutingPolicy() RoutingPolicy {
	by := make(map[string]AudioStream, len(mediaStreamVendors))
	for _, v := range mediaStreamVendors {
		by[v] = StreamMedia
	}
	return RoutingPolicy{Default: StreamVoiceCall, ByManufacturer: by}
}

// StreamFor returns the stream to announce on for the device.
func (p RoutingPolicy) StreamFor(d DeviceInfo) AudioStream {
	if s, ok := p.ByManufacturer[strings.ToUpper(strings.TrimSpace(d.Manufacturer))]; ok {
		return s
	}
	return p.Default
}

// ParseAudioStream accepts "voice_call" and "media".
func ParseAudioStream(s string) (AudioStream, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "voice_call", "voice", "call":
		return StreamVoiceCall, nil
	case "media", "music":
		return StreamMedia, nil
	}
	return 0, fmt.Errorf("unknown audio stream %q", s)
}
