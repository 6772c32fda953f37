package api

import (
	"bytes"
	"html/template"
	"net/http"
)

// dashboardTmpl is parsed once at package init. The template is a
// compile-time constant, so a parse error is a programming bug that panics
// at startup.
var dashboardTmpl = template.Must(template.New("dashboard").Parse(dashboardHTML))

type dashboardData struct {
	DryRun       bool
	DefaultTopic string
}

// handleDashboard serves the operator dashboard at GET /. The page is
// self-contained: it polls the JSON API for producer state and tails
// /api/events/stream over a WebSocket.
func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfgPtr.Load()
	data := dashboardData{
		DryRun:       cfg.DryRunActive(),
		DefaultTopic: cfg.Defaults.Topic,
	}

	// Render to a buffer first so a template error produces a clean 500
	// instead of appending error text to a partial 200 response.
	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(buf.Bytes())
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>feedsim</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, monospace;
         background: #12141c; color: #e0e0e0; padding: 2rem; }
  .container { max-width: 960px; margin: 0 auto; }
  h1 { font-size: 1.5rem; margin-bottom: 0.25rem; color: #fff; }
  h2 { font-size: 1.05rem; margin: 1.5rem 0 0.75rem; color: #9fb4d0; }
  .mode { font-size: 0.8rem; color: #888; margin-bottom: 1.5rem; }
  .mode .dry { color: #f1c40f; }
  .mode .live { color: #2ecc71; }
  table { width: 100%; border-collapse: collapse; font-size: 0.85rem; }
  th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid #242836; }
  th { color: #9fb4d0; font-weight: 600; }
  .status-running { color: #2ecc71; }
  .status-stopping { color: #f1c40f; }
  .status-failed { color: #e74c3c; }
  .err { color: #e74c3c; font-size: 0.78rem; }
  form.inline { display: inline; }
  .row { display: flex; gap: 0.5rem; flex-wrap: wrap; margin-bottom: 0.75rem; }
  input, select { padding: 0.45rem 0.6rem; border: 1px solid #2a3046; border-radius: 4px;
          background: #1a1e2c; color: #e0e0e0; font-size: 0.85rem; }
  .btn { padding: 0.45rem 1rem; border: none; border-radius: 4px; cursor: pointer;
         font-size: 0.85rem; font-weight: 600; }
  .btn-start { background: #27ae60; color: #fff; }
  .btn-stop { background: #c0392b; color: #fff; }
  .btn-alert { background: #d35400; color: #fff; }
  .flash { padding: 0.6rem 0.9rem; border-radius: 4px; margin: 0.75rem 0;
           background: #1a1e2c; border-left: 4px solid #3498db; font-size: 0.85rem; }
  #tail { background: #0c0e14; border: 1px solid #242836; border-radius: 4px;
          padding: 0.75rem; height: 240px; overflow-y: auto; font-size: 0.78rem;
          white-space: pre; }
  .footer { margin-top: 2rem; font-size: 0.72rem; color: #555; }
</style>
</head>
<body>
<div class="container">
  <h1>feedsim</h1>
  <div class="mode">sink:
    {{if .DryRun}}<span class="dry">dry-run (recording only)</span>
    {{else}}<span class="live">live</span>{{end}}
    &middot; default topic: {{.DefaultTopic}}</div>

  <div id="flash" class="flash" style="display:none"></div>

  <h2>Start producer</h2>
  <div class="row">
    <input id="pid" placeholder="producer_id" size="16">
    <input id="topic" placeholder="topic (default)" size="16">
    <input id="interval" placeholder="interval s" size="8">
    <input id="jitter" placeholder="jitter s" size="8">
    <button class="btn btn-start" onclick="startProducer()">Start</button>
  </div>

  <h2>Producers</h2>
  <table>
    <thead><tr><th>id</th><th>topic</th><th>status</th><th>sequence</th>
      <th>last error</th><th></th></tr></thead>
    <tbody id="producers"><tr><td colspan="6">loading&hellip;</td></tr></tbody>
  </table>

  <h2>Manual alert</h2>
  <div class="row">
    <input id="alertmsg" placeholder="message" size="32">
    <select id="alertsev">
      <option>debug</option><option>info</option>
      <option selected>warning</option>
      <option>error</option><option>critical</option>
    </select>
    <button class="btn btn-alert" onclick="sendAlert()">Send alert</button>
  </div>

  <h2>Event tail</h2>
  <div id="tail"></div>

  <div class="footer">feedsim event producer simulator. State is in-memory; producers do not survive a restart.</div>
</div>
<script>
function flash(msg) {
  var el = document.getElementById('flash');
  el.textContent = msg;
  el.style.display = 'block';
  setTimeout(function() { el.style.display = 'none'; }, 4000);
}
function esc(s) {
  var d = document.createElement('div');
  d.textContent = s == null ? '' : String(s);
  return d.innerHTML;
}
function refresh() {
  fetch('/api/producers').then(function(r) { return r.json(); }).then(function(body) {
    var rows = body.producers.map(function(p) {
      return '<tr><td>' + esc(p.producer_id) + '</td><td>' + esc(p.topic) +
        '</td><td class="status-' + esc(p.status) + '">' + esc(p.status) +
        '</td><td>' + p.sequence + '</td><td class="err">' + esc(p.last_error || '') +
        '</td><td><button class="btn btn-stop" onclick="stopProducer(\'' +
        encodeURIComponent(p.producer_id) + '\')">Stop</button></td></tr>';
    });
    document.getElementById('producers').innerHTML =
      rows.length ? rows.join('') : '<tr><td colspan="6">no producers running</td></tr>';
  }).catch(function() {});
}
function startProducer() {
  var body = { producer_id: document.getElementById('pid').value };
  var topic = document.getElementById('topic').value;
  var interval = document.getElementById('interval').value;
  var jitter = document.getElementById('jitter').value;
  if (topic) body.topic = topic;
  if (interval) body.interval_seconds = parseFloat(interval);
  if (jitter) body.jitter_seconds = parseFloat(jitter);
  fetch('/api/producers', { method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify(body)
  }).then(function(r) { return r.json(); }).then(function(res) {
    flash(res.error ? res.error : 'started ' + res.producer_id);
    refresh();
  });
}
function stopProducer(id) {
  fetch('/api/producers/' + id, { method: 'DELETE' })
    .then(function(r) { return r.json(); })
    .then(function(res) {
      flash(res.error ? res.error : 'stopped ' + res.producer_id);
      refresh();
    });
}
function sendAlert() {
  fetch('/api/alert', { method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify({
      message: document.getElementById('alertmsg').value,
      severity: document.getElementById('alertsev').value
    })
  }).then(function(r) { return r.json(); }).then(function(res) {
    flash(res.error ? res.error : res.detail);
  });
}
function appendTail(line) {
  var tail = document.getElementById('tail');
  tail.textContent += line + '\n';
  while (tail.textContent.length > 40000) {
    tail.textContent = tail.textContent.slice(tail.textContent.indexOf('\n') + 1);
  }
  tail.scrollTop = tail.scrollHeight;
}
function connectTail() {
  fetch('/api/events/recent').then(function(r) { return r.json(); }).then(function(body) {
    body.events.forEach(function(ev) { appendTail(JSON.stringify(ev)); });
  }).catch(function() {});
  var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  var sock = new WebSocket(proto + location.host + '/api/events/stream');
  sock.onmessage = function(ev) { appendTail(ev.data); };
  sock.onclose = function() { setTimeout(connectTail, 3000); };
}
refresh();
setInterval(refresh, 2000);
connectTail();
</script>
</body>
</html>`
