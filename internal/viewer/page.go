package viewer

// Page is the single-page viewer served at /.
const Page = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Conversation Viewer</title>
<style>
body { font-family: sans-serif; margin: 2rem; background: #fafafa; }
.call { background: #fff; border: 1px solid #ddd; border-radius: 6px; padding: 1rem; margin-bottom: 1rem; }
.entry { margin: .25rem 0; }
.assistant { color: #2a5db0; }
.user { color: #2e7d32; }
.analysis { margin-top: .5rem; padding-top: .5rem; border-top: 1px dashed #ccc; }
.status { font-weight: bold; }
</style>
</head>
<body>
<h1>Conversation Viewer</h1>
<div id="status">connecting...</div>
<div id="calls"></div>
<script>
const calls = {};
function section(id) {
  if (!calls[id]) {
    const el = document.createElement("div");
    el.className = "call";
    el.innerHTML = "<h3></h3><div class='entries'></div><div class='analysis'></div>";
    el.querySelector("h3").textContent = id;
    document.getElementById("calls").prepend(el);
    calls[id] = el;
  }
  return calls[id];
}
function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onopen = () => { document.getElementById("status").textContent = "live"; };
  ws.onclose = () => { document.getElementById("status").textContent = "reconnecting..."; setTimeout(connect, 1000); };
  ws.onmessage = (msg) => {
    const ev = JSON.parse(msg.data);
    const el = section(ev.callId);
    if (ev.entry) {
      const line = document.createElement("div");
      line.className = "entry " + ev.entry.speaker;
      line.textContent = "#" + ev.entry.sequence + " " + ev.entry.speaker + ": " + ev.entry.text;
      el.querySelector(".entries").appendChild(line);
    }
    if (ev.analysis) {
      const a = ev.analysis;
      const box = el.querySelector(".analysis");
      box.innerHTML = "<span class='status'></span> <span class='body'></span>";
      box.querySelector(".status").textContent = a.status + " after " + a.attempts + " attempts";
      box.querySelector(".body").textContent = a.summary || a.error || "";
    }
  };
}
connect();
</script>
</body>
</html>
`
