// Package conn implements the connection-level state, settings exchange,
// GOAWAY/PING handling and connection lifecycle described in spec.md §4.4,
// plus the Dialer that pools connections per host (spec.md §6
// network.max_connections_per_host).
package conn

import "github.com/emberfox-browser/netcore/frame"

// Fixed wire constants (spec.md §6).
const (
	DefaultInitialWindowSize = 65535
	DefaultHeaderTableSize   = 4096
	MinMaxFrameSize          = 16384
	MaxMaxFrameSize          = 16777215
	DefaultMaxFrameSize      = 16384
)

// Settings mirrors dgrr-http2's Settings struct (a humanized view over the
// six SETTINGS parameters) generalized to also track which fields the peer
// has actually sent, since spec.md §4.4 requires "peer's SETTINGS must be
// received before any request HEADERS are sent" — Received lets the
// connection engine block on that.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32

	Received bool
}

// DefaultSettings returns the RFC 7540 §6.5.2 default parameter values.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      DefaultHeaderTableSize,
		EnablePush:           true,
		MaxConcurrentStreams: 100,
		InitialWindowSize:    DefaultInitialWindowSize,
		MaxFrameSize:         DefaultMaxFrameSize,
		MaxHeaderListSize:    0, // 0 = unlimited
	}
}

// ToFrame converts st into a wire frame.Settings body, omitting any
// parameter still at the RFC default the way dgrr-http2/settings.go's
// Encode does (send only what differs from default, saving bytes).
func (st Settings) ToFrame() *frame.Settings {
	params := make(map[frame.SettingID]uint32, 6)
	if st.HeaderTableSize != DefaultHeaderTableSize {
		params[frame.SettingHeaderTableSize] = st.HeaderTableSize
	}
	if !st.EnablePush {
		params[frame.SettingEnablePush] = 0
	}
	if st.MaxConcurrentStreams != 0 {
		params[frame.SettingMaxConcurrentStreams] = st.MaxConcurrentStreams
	}
	if st.InitialWindowSize != DefaultInitialWindowSize {
		params[frame.SettingInitialWindowSize] = st.InitialWindowSize
	}
	if st.MaxFrameSize != DefaultMaxFrameSize {
		params[frame.SettingMaxFrameSize] = st.MaxFrameSize
	}
	if st.MaxHeaderListSize != 0 {
		params[frame.SettingMaxHeaderListSize] = st.MaxHeaderListSize
	}
	return &frame.Settings{Params: params}
}

// ApplyFrame merges a decoded SETTINGS frame's parameters into st,
// validating spec.md §4.4's MAX_FRAME_SIZE range along the way. It returns
// every recognized parameter the frame carried, with its new value, whether
// or not the value differs from before, so the caller can react (in
// particular, a changed InitialWindowSize must retroactively adjust every
// open stream's send window).
func (st *Settings) ApplyFrame(f *frame.Settings) (changed map[frame.SettingID]uint32, err error) {
	changed = make(map[frame.SettingID]uint32, len(f.Params))
	for id, val := range f.Params {
		switch id {
		case frame.SettingHeaderTableSize:
			st.HeaderTableSize = val
		case frame.SettingEnablePush:
			st.EnablePush = val != 0
		case frame.SettingMaxConcurrentStreams:
			st.MaxConcurrentStreams = val
		case frame.SettingInitialWindowSize:
			if val > (1<<31 - 1) {
				return nil, ErrFlowControl
			}
			st.InitialWindowSize = val
		case frame.SettingMaxFrameSize:
			if val < MinMaxFrameSize || val > MaxMaxFrameSize {
				return nil, ErrProtocol
			}
			st.MaxFrameSize = val
		case frame.SettingMaxHeaderListSize:
			st.MaxHeaderListSize = val
		default:
			// Unknown settings are ignored per RFC 7540 §6.5.2.
			continue
		}
		changed[id] = val
	}
	st.Received = true
	return changed, nil
}
