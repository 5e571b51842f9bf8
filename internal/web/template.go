package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/button-handler/internal/logic"
	"github.com/sweeney/button-handler/internal/status"
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
	"phaseName": func(b logic.ButtonState) string {
		if !b.Baselined {
			return "UNKNOWN"
		}
		return string(b.Phase)
	},
	"phaseClass": func(b logic.ButtonState) string {
		switch {
		case !b.Baselined:
			return "unknown"
		case b.Pressed:
			return "pressed"
		default:
			return "idle"
		}
	},
	"reverse": func(events []logic.Event) []logic.Event {
		out := make([]logic.Event, len(events))
		for i, e := range events {
			out[len(events)-1-i] = e
		}
		return out
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Button Handler</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.pressed { color: green; font-weight: bold; }
.idle { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Button Handler{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Buttons</h2>
<table>
<tr><th>Button</th><th>Phase</th><th>Presses</th></tr>
{{range .Buttons}}<tr><td>{{.Button}}</td><td class="{{phaseClass .}}">{{phaseName .}}{{if .Holding}} (holding){{end}}</td><td>{{.PressCount}}</td></tr>
{{end}}</table>
<p>Ready: {{if .Baselined}}yes{{else}}no{{end}}</p>

<h2>Recent Events</h2>
<table id="events">
{{range reverse .Recent}}<tr><td>{{.Timestamp.UTC.Format "15:04:05.000"}}</td><td>{{.String}}</td></tr>
{{else}}<tr id="no-events"><td>none yet</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topic prefix</th><td>{{.Config.TopicPrefix}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Action Counts</h2>
<table>
<tr><th>Short</th><td>{{.Counts.Short}}</td></tr>
<tr><th>Long</th><td>{{.Counts.Long}}</td></tr>
<tr><th>Hold</th><td>{{.Counts.Hold}}</td></tr>
<tr><th>Double</th><td>{{.Counts.Double}}</td></tr>
<tr><th>Triple</th><td>{{.Counts.Triple}}</td></tr>
<tr><th>Multi</th><td>{{.Counts.Multi}}</td></tr>
<tr><th>Anomalies</th><td>{{.Counts.Anomalies}}</td></tr>
<tr><th>Callbacks</th><td>{{.Callbacks.Invocations}} ({{.Callbacks.Failures}} failed)</td></tr>
{{if .DroppedEdges}}<tr><th>Dropped edges</th><td>{{.DroppedEdges}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Input</th><td>{{.Config.Mode}}{{if eq .Config.Mode "poll"}} every {{.Config.PollMs}}ms{{end}}</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Short / long</th><td>&lt;{{.Config.ShortPressMaxMs}}ms / &ge;{{.Config.LongPressMinMs}}ms</td></tr>
<tr><th>Multi-press gap</th><td>{{.Config.MultiPressMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Bindings</th><td>{{.Config.Bindings}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var table = document.getElementById("events");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function addEvent(ev) {
    var none = document.getElementById("no-events");
    if (none) { none.remove(); }
    var row = table.insertRow(0);
    row.insertCell(0).textContent = ev.timestamp.substring(11, 23);
    row.insertCell(1).textContent = ev.label + " on button " + ev.button;
    while (table.rows.length > 20) { table.deleteRow(-1); }
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/events");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var msg = JSON.parse(m.data);
        if (msg.type === "event") { addEvent(msg.data); }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	return indexTmpl.Execute(w, data)
}
