package plot

import "html/template"

// Values inside <script> are JSON-encoded by html/template, so labels taken
// from the document cannot break out of the script.
var mapTemplate = template.Must(template.New("map").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
{{- if eq .Kind "Density Plot"}}
<script src="https://unpkg.com/leaflet.heat@0.2.0/dist/leaflet-heat.js"></script>
{{- end}}
<style>
  body { margin: 0; font-family: sans-serif; }
  #map { width: {{.Width}}px; height: {{.Height}}px; max-width: 100vw; max-height: 100vh; }
</style>
</head>
<body>
<div id="map"></div>
<script>
  const kind = {{.Kind}};
  const points = {{.Points}};
  const center = {{.Center}};
  const bounds = {{.Bounds}};

  const map = L.map("map").setView([center.lat, center.lon], {{.Zoom}});
  L.tileLayer({{.Tiles}}, { maxZoom: 19, attribution: {{.Attribution}} }).addTo(map);

  const popup = (p) => {
    const el = document.createElement("div");
    const name = document.createElement("b");
    name.textContent = p.label;
    el.appendChild(name);
    if (p.time) {
      el.appendChild(document.createElement("br"));
      el.appendChild(document.createTextNode(p.time));
    }
    return el;
  };

  if (kind === "Density Plot") {
    L.heatLayer(points.map((p) => [p.lat, p.lon, p.w || 0.1]), { radius: 20, blur: 15 }).addTo(map);
  } else if (kind === "Lines Plot") {
    L.polyline(points.map((p) => [p.lat, p.lon]), { weight: 2 }).addTo(map);
    points.forEach((p) => L.circleMarker([p.lat, p.lon], { radius: 2 }).bindTooltip(popup(p)).addTo(map));
  } else {
    points.forEach((p) => L.circleMarker([p.lat, p.lon], { radius: 4 }).bindPopup(popup(p)).addTo(map));
  }

  if (bounds) {
    map.fitBounds([[bounds.bottom_left.lat, bounds.bottom_left.lon], [bounds.top_right.lat, bounds.top_right.lon]]);
  }
</script>
</body>
</html>
`))
