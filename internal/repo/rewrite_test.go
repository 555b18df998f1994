package repo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const scriptURL = "http://localhost:8000/sandbox-bridge.js"

func rewrite(t *testing.T, files Files) Files {
	t.Helper()
	out, err := NewRewriter(scriptURL, nil).Rewrite(Ref{"acme", "space-game"}, files)
	require.NoError(t, err)
	return out
}

func TestRewriteInjectsBridgeScript(t *testing.T) {
	tag := `<script src="` + scriptURL + `"></script>`
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "<html><head><title>x</title></head><body></body></html>",
			"<html><head><title>x</title>" + tag + "</head><body></body></html>"},
		{"uppercase close", "<HTML><HEAD></HEAD></HTML>", "<HTML><HEAD>" + tag + "</HEAD></HTML>"},
		{"already present", "<html><head>" + tag + "</head></html>", "<html><head>" + tag + "</head></html>"},
		{"no head", "<div>game</div>", "<div>game</div>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := rewrite(t, Files{"index.html": tt.in})
			assert.Equal(t, tt.want, out["index.html"])
		})
	}
}

func TestRewritePromotesPublicIndex(t *testing.T) {
	out := rewrite(t, Files{"public/index.html": "<head></head>"})

	assert.Contains(t, out["public/index.html"], scriptURL)
	assert.Equal(t, out["public/index.html"], out["index.html"])
}

func TestRewriteRequiresIndex(t *testing.T) {
	_, err := NewRewriter(scriptURL, nil).Rewrite(Ref{"acme", "x"}, Files{"src/main.ts": ""})
	assert.ErrorIs(t, err, ErrNoIndexHTML)
}

func TestRewriteAPIBase(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"replaced", "const API_BASE_URL = 'https://api.example.com';\nexport {};",
			"const API_BASE_URL = '/api';\nexport {};"},
		{"env lookup", "const API_BASE_URL = import.meta.env.VITE_API || 'x';",
			"const API_BASE_URL = '/api';"},
		{"missing", "export const get = () => fetch('/x');",
			"const API_BASE_URL = '/api';\nexport const get = () => fetch('/x');"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := rewrite(t, Files{"index.html": "<head></head>", "src/services/apiService.ts": tt.in})
			assert.Equal(t, tt.want, out["src/services/apiService.ts"])
		})
	}
}

func TestRewritePackageJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantDev string
	}{
		{"no scripts", `{"name":"game"}`, "vite"},
		{"empty dev", `{"scripts":{"dev":"","build":"tsc"}}`, "vite"},
		{"kept", `{"scripts":{"dev":"next dev"}}`, "next dev"},
		{"scripts not object", `{"scripts":"oops"}`, "vite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := rewrite(t, Files{"index.html": "<head></head>", "package.json": tt.in})
			assert.Equal(t, tt.wantDev, gjson.Get(out["package.json"], "scripts.dev").String())
		})
	}

	out := rewrite(t, Files{"index.html": "<head></head>", "package.json": "{not json"})
	assert.Equal(t, "{not json", out["package.json"])
}

func TestRewriteEnv(t *testing.T) {
	out := rewrite(t, Files{"index.html": "<head></head>"})
	assert.Equal(t, `VITE_GAME_ID="space-game"`, strings.TrimSpace(out[".env"]))

	out = rewrite(t, Files{"index.html": "<head></head>", ".env": "VITE_GAME_ID=old\nVITE_MODE=dev\n"})
	assert.Contains(t, out[".env"], `VITE_GAME_ID="space-game"`)
	assert.Contains(t, out[".env"], `VITE_MODE="dev"`)
	assert.NotContains(t, out[".env"], "old")
}

func TestRewriteTSConfig(t *testing.T) {
	out := rewrite(t, Files{"index.html": "<head></head>"})
	assert.Equal(t, []string{"eslint.config.js", "eslint.config.mjs"}, stringsOf(gjson.Get(out["tsconfig.json"], "exclude")))
	assert.True(t, gjson.Get(out["tsconfig.json"], "compilerOptions").IsObject())

	withComments := `{
  // strict mode on
  "compilerOptions": {"strict": true,},
  "exclude": ["node_modules", "eslint.config.js"],
}`
	out = rewrite(t, Files{"index.html": "<head></head>", "tsconfig.json": withComments})
	assert.True(t, gjson.Get(out["tsconfig.json"], "compilerOptions.strict").Bool())
	assert.Equal(t, []string{"node_modules", "eslint.config.js", "eslint.config.mjs"},
		stringsOf(gjson.Get(out["tsconfig.json"], "exclude")))

	_, err := NewRewriter(scriptURL, nil).Rewrite(Ref{"acme", "x"},
		Files{"index.html": "<head></head>", "tsconfig.json": "[1,2]"})
	assert.Error(t, err)
}

func TestRewriteStubsESLintAndKeepsInput(t *testing.T) {
	in := Files{"index.html": "<head></head>", "eslint.config.js": "import x from 'y';"}
	out := rewrite(t, in)

	assert.Equal(t, "export default [];", out["eslint.config.js"])
	assert.Equal(t, "import x from 'y';", in["eslint.config.js"], "input is not mutated")
	assert.Equal(t, "<head></head>", in["index.html"])
}

func stringsOf(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}
