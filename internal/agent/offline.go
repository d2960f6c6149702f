package agent

import "encoding/json"

// offlinePageHTML is the synthesized navigation fallback. It is embedded in
// the agent and constructed on demand, never fetched from network or stored
// in any cache generation.
const offlinePageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Score Hub · Offline</title>
<style>
body{font-family:sans-serif;background:#10141f;color:#e8eaf0;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0}
main{text-align:center;padding:2rem}
h1{font-size:1.5rem;margin-bottom:.5rem}
p{color:#9aa3b5;margin-bottom:1.5rem}
button{background:#3561e0;color:#fff;border:0;border-radius:6px;padding:.6rem 1.4rem;font-size:1rem;cursor:pointer}
</style>
</head>
<body>
<main>
<h1>You are offline</h1>
<p>The scoreboard could not be reached. Cached scores will return once the connection is back.</p>
<button onclick="location.reload()">Retry</button>
</main>
</body>
</html>
`

// emptyEnvelope 是“离线且无缓存”时的合成数据信封：HTTP 成功状态、
// offline 标记、以及与仪表盘数据同形的清零聚合字段。
type emptyEnvelope struct {
	Offline      bool       `json:"offline"`
	Players      []struct{} `json:"players"`
	Scores       []struct{} `json:"scores"`
	TotalPlayers int        `json:"total_players"`
	UpdatedAt    string     `json:"updated_at"`
}

// offlineDataEnvelope marshals the zeroed envelope; the shape is fixed, so
// the marshal cannot fail at runtime.
func offlineDataEnvelope() []byte {
	out, _ := json.Marshal(emptyEnvelope{
		Offline: true,
		Players: []struct{}{},
		Scores:  []struct{}{},
	})
	return out
}
