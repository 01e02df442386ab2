package web

import "net/http"

// HandleDashboard serves the single-page rig console. The page draws tagged
// PNG messages from /ws and posts controls to /api.
func HandleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>astrorig</title>
    <style>
        body { background: #000; color: #c33; font-family: monospace; margin: 0; }
        header { padding: 8px 12px; border-bottom: 1px solid #300; }
        main { display: flex; gap: 12px; padding: 12px; }
        #preview { cursor: crosshair; border: 1px solid #300; }
        #zoom { width: 512px; height: 512px; image-rendering: pixelated; border: 1px solid #300; }
        button, input { background: #100; color: #c33; border: 1px solid #522; margin: 2px; }
        #status { white-space: pre; font-size: 11px; }
    </style>
</head>
<body>
    <header>
        <button onclick="post('/api/stack/save')">save (s)</button>
        <button onclick="post('/api/stack/reset')">reset (r)</button>
        <button onclick="post('/api/stack/show')">stack (m)</button>
        <button onclick="post('/api/threshold', {toggle: true})">threshold (t)</button>
        <button onclick="post('/api/dark/mode', {toggle: true})">dark (d)</button>
        <button onclick="post('/api/mount/ra/direction', {direction: -1})">RA &lt;</button>
        <button onclick="post('/api/mount/ra/direction', {direction: 0})">RA stop</button>
        <button onclick="post('/api/mount/ra/direction', {direction: 1})">RA &gt;</button>
        <input id="dec" type="number" step="0.01" value="0.10" size="6">
        <button onclick="post('/api/mount/dec/move', {degrees: parseFloat(dec.value)})">DEC move</button>
    </header>
    <main>
        <img id="preview" alt="preview">
        <img id="zoom" alt="zoom">
        <div id="status"></div>
    </main>
    <script>
        const preview = document.getElementById('preview');
        const zoom = document.getElementById('zoom');
        const status = document.getElementById('status');
        const dec = document.getElementById('dec');

        function post(path, body) {
            return fetch(path, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(body || {})
            }).then(refresh);
        }

        function refresh() {
            fetch('/api/status').then(r => r.json()).then(s => {
                status.textContent = JSON.stringify(s, null, 2);
            });
        }

        function connect() {
            const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws.binaryType = 'arraybuffer';
            ws.onmessage = (ev) => {
                if (typeof ev.data === 'string') {
                    return;
                }
                const bytes = new Uint8Array(ev.data);
                const url = URL.createObjectURL(new Blob([bytes.subarray(1)], {type: 'image/png'}));
                const target = bytes[0] === 1 ? preview : zoom;
                const old = target.src;
                target.src = url;
                if (old) URL.revokeObjectURL(old);
            };
            ws.onclose = () => setTimeout(connect, 2000);
        }

        preview.addEventListener('click', (ev) => {
            post('/api/zoom', {x: ev.offsetX, y: ev.offsetY, preview: true});
        });

        document.addEventListener('keydown', (ev) => {
            if (ev.target.tagName === 'INPUT') return;
            switch (ev.key) {
                case 's': post('/api/stack/save'); break;
                case 'r': post('/api/stack/reset'); break;
                case 'm': post('/api/stack/show'); break;
                case 't': post('/api/threshold', {toggle: true}); break;
                case 'd': post('/api/dark/mode', {toggle: true}); break;
            }
        });

        connect();
        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>`
