package models

import (
	"encoding/json"
	"time"
)

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// WEBSOCKET //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// WsEnvelope wraps every inbound websocket frame. The channel field
// discriminates the payload shape.
type WsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// WsLevel represents a single resting price level as pushed by the feed.
// Price and size stay textual decimals end to end.
type WsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// WsBook is an l2Book push: a full replacement view of both sides.
// levels[0] holds bids (best first), levels[1] holds asks (best first).
type WsBook struct {
	Coin   string       `json:"coin"`
	Levels [2][]WsLevel `json:"levels"`
	Time   int64        `json:"time"`
}

// WsTrade is one execution from the trades channel. Frames may batch
// several trades into one array.
type WsTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Hash string `json:"hash"`
	Time int64  `json:"time"`
	Tid  int64  `json:"tid"`
}

// SubscribeRequest is the outbound subscription message.
type SubscribeRequest struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

type Subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////// INFO ENDPOINT /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Meta is the universe descriptor returned as the first element of the
// metaAndAssetCtxs response. Universe order aligns with the context array.
type Meta struct {
	Universe []AssetMeta `json:"universe"`
}

type AssetMeta struct {
	Name       string `json:"name"`
	SzDecimals int    `json:"szDecimals"`
}

// AssetCtx carries the per-asset statistics aligned by index with the
// universe. All monetary fields are textual decimals.
type AssetCtx struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	PrevDayPx    string `json:"prevDayPx"`
	DayNtlVlm    string `json:"dayNtlVlm"`
	OraclePx     string `json:"oraclePx"`
	MarkPx       string `json:"markPx"`
	MidPx        string `json:"midPx"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// INTERNAL //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// RawFrame wraps one decoded websocket envelope on its way from the reader
// to the normalizer.
type RawFrame struct {
	Channel  string
	Data     []byte
	Received time.Time
}
