package domain

import "strconv"

// CrossLayerEnvelope is a relayed cross-chain message. Nonces are
// strictly increasing per (SrcChainID, ChannelID) channel.
type CrossLayerEnvelope struct {
	SrcChainID  uint64 `json:"src_chain_id"`
	DstChainID  uint64 `json:"dst_chain_id"`
	ChannelID   Hex32  `json:"channel_id"`
	Nonce       uint64 `json:"nonce"`
	PayloadHash Hex32  `json:"payload_hash"`
}

// ChannelKey identifies the nonce stream this envelope belongs to.
func (e CrossLayerEnvelope) ChannelKey() string {
	return strconv.FormatUint(e.SrcChainID, 10) + ":" + string(e.ChannelID)
}

// ReplaySnapshot is the persisted Replay Guard state. Nonce watermarks
// are decimal strings so a non-Go reader never loses precision.
type ReplaySnapshot struct {
	Version    int                `json:"version"`
	Channels   []ChannelWatermark `json:"channels"`
	ReplayKeys []string           `json:"replay_keys"`
}

type ChannelWatermark struct {
	Channel string `json:"channel"`
	Nonce   string `json:"nonce"`
}

const ReplaySnapshotVersion = 1
