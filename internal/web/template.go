package web

import (
	"fmt"
	"html/template"
	"time"
)

var templates = template.Must(template.New("web").Funcs(template.FuncMap{
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
}).Parse(pagesHTML))

const pagesHTML = `
{{define "head"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Intercom</title>
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
.open { display: block; width: 100%; height: 40vh; font-size: 4em; }
</style>
{{end}}

{{define "door"}}{{template "head"}}</head>
<body>
<form action="/door/{{.Token}}" method="get">
<input class="open" type="submit" value="Open door">
</form>
<p>{{.User}} &middot; <a href="/status">status</a> &middot; <a href="/auth/logout">sign out</a></p>
</body>
</html>
{{end}}

{{define "opened"}}{{template "head"}}<meta http-equiv="refresh" content="3;url=/door">
</head>
<body>
<h1>Door opened</h1>
</body>
</html>
{{end}}

{{define "forbidden"}}{{template "head"}}</head>
<body>
<h1>Forbidden</h1>
{{if .User}}<p>{{.User}} may not open this door.</p>
<p><a href="/auth/logout">Sign out</a></p>
{{else}}<p><a href="{{.Login}}">Sign in</a></p>{{end}}
</body>
</html>
{{end}}

{{define "error"}}{{template "head"}}</head>
<body>
<h1>Error</h1>
<p>{{.Message}}</p>
<p><a href="/door">Back</a></p>
</body>
</html>
{{end}}

{{define "status"}}{{template "head"}}</head>
<body>
<h1>Intercom</h1>

<h2>Call</h2>
<table>
<tr><th>State</th><td class="{{if eq (stateOrUnknown (printf "%s" .Call.State)) "CONNECTED"}}on{{else if eq (stateOrUnknown (printf "%s" .Call.State)) "IDLE"}}off{{else}}unknown{{end}}">{{stateOrUnknown (printf "%s" .Call.State)}}</td></tr>
{{if .Call.ID}}<tr><th>Peer</th><td>{{.Call.Target}} ({{.Call.Direction}})</td></tr>
<tr><th>Since</th><td>{{.Call.StartedAt.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
<tr><th>Target</th><td>{{.Config.Target}}</td></tr>
<tr><th>Inbound</th><td>{{if .Config.Listen}}accepted{{else}}rejected{{end}}</td></tr>
</table>

<h2>Devices</h2>
<table>
<tr><th>Green LED</th><td class="{{if eq (printf "%s" .Green) "OFF"}}off{{else}}on{{end}}">{{stateOrUnknown (printf "%s" .Green)}}</td></tr>
<tr><th>Red LED</th><td class="{{if .Red}}on{{else}}off{{end}}">{{if .Red}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Door</th><td class="{{if .DoorOpen}}on{{else}}off{{end}}">{{if .DoorOpen}}open{{else}}closed{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Button presses</th><td>{{.Counts.Presses}}</td></tr>
<tr><th>Calls placed</th><td>{{.Counts.CallsPlaced}}</td></tr>
<tr><th>Calls failed</th><td>{{.Counts.CallsFailed}}</td></tr>
<tr><th>Calls connected</th><td>{{.Counts.CallsConnected}}</td></tr>
<tr><th>Calls inbound</th><td>{{.Counts.CallsInbound}}</td></tr>
<tr><th>Door opens</th><td>{{.Counts.DoorOpens}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO</th><td>{{.Config.Driver}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Blink</th><td>{{.Config.BlinkMs}}ms</td></tr>
<tr><th>Door hold</th><td>{{.Config.DoorDurationMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/status.json">JSON</a></p>
</body>
</html>
{{end}}
`
