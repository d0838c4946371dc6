package bridge

import "encoding/json"

// DefaultStyleURL：无需令牌的公共矢量样式
const DefaultStyleURL = "https://demotiles.maplibre.org/style.json"

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

const pageHead = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>boundary overlay</title>
<link rel="stylesheet" href="https://unpkg.com/maplibre-gl@4/dist/maplibre-gl.css">
<script src="https://unpkg.com/maplibre-gl@4/dist/maplibre-gl.js"></script>
<style>html,body,#map{margin:0;height:100%}</style>
</head>
<body>
<div id="map"></div>
`

// pageScript：命令分发表与 frames.go 中的命令名一一对应
const pageScript = `<script>
const map = new maplibregl.Map({container: "map", style: STYLE_URL, center: [0, 0], zoom: 2});
let gone = false;
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/bridge");
const ops = {
  isStyleLoaded: () => map.isStyleLoaded(),
  hasSource: a => !!map.getSource(a.id),
  hasLayer: a => !!map.getLayer(a.id),
  addSource: a => { map.addSource(a.id, a.source); },
  removeSource: a => { map.removeSource(a.id); },
  addLayer: a => { map.addLayer(a); },
  removeLayer: a => { map.removeLayer(a.id); },
  setPaintProperty: a => { map.setPaintProperty(a.layer, a.name, a.value); },
  flyTo: a => { map.flyTo(a); },
  getZoom: () => map.getZoom(),
};
ws.onmessage = msg => {
  const cmd = JSON.parse(msg.data);
  if (gone) { ws.send(JSON.stringify({id: cmd.id, ok: false, code: "gone", error: "map removed"})); return; }
  try {
    const result = ops[cmd.op](cmd.args || {});
    ws.send(JSON.stringify({id: cmd.id, ok: true, result: result === undefined ? null : result}));
  } catch (e) {
    ws.send(JSON.stringify({id: cmd.id, ok: false, error: String(e && e.message || e)}));
  }
};
for (const ev of ["styledata", "zoomend"]) {
  map.on(ev, () => { if (ws.readyState === 1) ws.send(JSON.stringify({event: ev})); });
}
window.addEventListener("beforeunload", () => { gone = true; map.remove(); });
</script>
</body>
</html>
`
