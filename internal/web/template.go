package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/ecu-trigger/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"stateClass": func(s string) string {
		switch s {
		case "RUNNING", "SYNCED":
			return "on"
		case "STOPPED", "UNSYNCED":
			return "off"
		}
		return "unknown"
	},
	"inc": func(i int) int { return i + 1 },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>ECU Trigger</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>ECU Trigger</h1>

{{$engine := stateOrUnknown (printf "%s" .EngineState)}}{{$sync := stateOrUnknown (printf "%s" .SyncState)}}
<h2>Engine</h2>
<table>
<tr><th>State</th><td id="engine-state" class="{{stateClass $engine}}">{{$engine}}{{if .Engine.Cranking}} (cranking){{end}}</td></tr>
<tr><th>Sync</th><td id="sync-state" class="{{stateClass $sync}}">{{$sync}}{{if .Engine.SyncStatus}} ({{.Engine.SyncStatus}}){{end}}</td></tr>
<tr><th>RPM</th><td id="rpm">{{.Engine.RPM}}</td></tr>
<tr><th>Crank angle</th><td id="crank-angle">{{.Engine.CrankAngle}}</td></tr>
<tr><th>Revolutions</th><td>{{.Engine.StartRevolutions}}</td></tr>
<tr><th>Sync losses</th><td>{{.Engine.SyncLosses}}</td></tr>
<tr><th>Tooth log</th><td>{{if .Engine.ToothLogReady}}ready (<a href="/toothlog.json">download</a>){{else}}not ready{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

{{if .Engine.EndTeeth}}<h2>Ignition End Teeth</h2>
<table>
{{range $i, $tooth := .Engine.EndTeeth}}<tr><th>Channel {{inc $i}}</th><td>{{$tooth}}</td></tr>
{{end}}</table>
{{end}}
<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Buffered</th><td>{{.MQTTBuffered}}{{if .MQTTDropped}} ({{.MQTTDropped}} dropped){{end}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Engine start</th><td>{{.Counts.EngineStart}}</td></tr>
<tr><th>Engine stop</th><td>{{.Counts.EngineStop}}</td></tr>
<tr><th>Sync gained</th><td>{{.Counts.SyncGained}}</td></tr>
<tr><th>Sync lost</th><td>{{.Counts.SyncLost}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Pattern</th><td>{{.Config.Pattern}} {{.Config.TriggerTeeth}}-{{.Config.MissingTeeth}}</td></tr>
<tr><th>Trigger angle</th><td>{{.Config.TriggerAngle}}</td></tr>
<tr><th>Cylinders</th><td>{{.Config.Cylinders}}</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}</td></tr>
<tr><th>Outputs</th><td>{{.Config.Outputs}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var rpm = document.getElementById("rpm");
  var angle = document.getElementById("crank-angle");
  setInterval(function() {
    fetch("/index.json").then(function(r) { return r.json(); }).then(function(j) {
      rpm.textContent = j.status.engine.rpm;
      angle.textContent = j.status.engine.crank_angle;
    }).catch(function() {});
  }, 1000);
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
