package bridge

import "encoding/json"

// 文档注释：桥接帧
// 背景：Go 侧发送命令 {id, op, args}；页面回复 {id, ok, result, error, code}；页面主动推送事件 {event}。
// 约束：id 由 Go 侧单调分配，回复必须原样带回；code 为 "gone" 表示页面上的地图实例已销毁。
type command struct {
	ID   uint64 `json:"id"`
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

type frame struct {
	ID     uint64          `json:"id,omitempty"`
	OK     bool            `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	Event  string          `json:"event,omitempty"`
}

const codeGone = "gone"

// 命令名与页面脚本中的分发表一致
const (
	opIsStyleLoaded    = "isStyleLoaded"
	opHasSource        = "hasSource"
	opHasLayer         = "hasLayer"
	opAddSource        = "addSource"
	opRemoveSource     = "removeSource"
	opAddLayer         = "addLayer"
	opRemoveLayer      = "removeLayer"
	opSetPaintProperty = "setPaintProperty"
	opFlyTo            = "flyTo"
	opGetZoom          = "getZoom"
)

type idArgs struct {
	ID string `json:"id"`
}

type sourceArgs struct {
	ID     string `json:"id"`
	Source any    `json:"source"`
}

type paintArgs struct {
	Layer string `json:"layer"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}
