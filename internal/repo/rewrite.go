package repo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"github.com/PuerkitoBio/goquery"
	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

const (
	apiServicePath = "src/services/apiService.ts"
	apiBaseLine    = "const API_BASE_URL = '/api';"
	eslintStub     = "export default [];"
)

var (
	headClose  = regexp.MustCompile(`(?i)</head>`)
	apiBaseDef = regexp.MustCompile(`const\s+API_BASE_URL\s*=\s*[^;]+;`)

	indexPaths    = []string{"index.html", "public/index.html"}
	eslintConfigs = []string{"eslint.config.js", "eslint.config.mjs"}
)

// Rewriter prepares a fetched tree to run inside the execution container
// with its API calls routed through the bridge.
type Rewriter struct {
	// ScriptURL is the src of the injected bridge script tag.
	ScriptURL string
	logger    *logging.Logger
}

// NewRewriter creates a rewriter injecting scriptURL.
func NewRewriter(scriptURL string, logger *logging.Logger) *Rewriter {
	return &Rewriter{ScriptURL: scriptURL, logger: logging.OrNop(logger).Named("rewriter")}
}

// Rewrite returns a rewritten copy of files. It fails with ErrNoIndexHTML
// when the tree has no entry page.
func (rw *Rewriter) Rewrite(ref Ref, files Files) (Files, error) {
	out := files.Clone()

	for _, p := range indexPaths {
		if html, ok := out[p]; ok {
			out[p] = rw.injectScript(p, html)
		}
	}
	if src, ok := out[apiServicePath]; ok {
		out[apiServicePath] = rewriteAPIBase(src)
	}
	if pkg, ok := out["package.json"]; ok {
		out["package.json"] = rw.ensureDevScript(pkg)
	}

	env, err := setEnv(out[".env"], "VITE_GAME_ID", ref.Name)
	if err != nil {
		rw.logger.Warn("Replacing unparseable .env", zap.Error(err))
		env = "VITE_GAME_ID=" + ref.Name
	}
	out[".env"] = env

	tsconfig, err := excludeFromTSConfig(out["tsconfig.json"], eslintConfigs...)
	if err != nil {
		return nil, fmt.Errorf("tsconfig.json: %w", err)
	}
	out["tsconfig.json"] = tsconfig
	out["eslint.config.js"] = eslintStub

	if _, ok := out["index.html"]; !ok {
		public, ok := out["public/index.html"]
		if !ok {
			return nil, ErrNoIndexHTML
		}
		out["index.html"] = public
	}
	return out, nil
}

// injectScript adds the bridge script before </head> unless the page
// already loads it.
func (rw *Rewriter) injectScript(path, html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		present := false
		doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			present = s.AttrOr("src", "") == rw.ScriptURL
			return !present
		})
		if present {
			return html
		}
	}

	loc := headClose.FindStringIndex(html)
	if loc == nil {
		rw.logger.Warn("Page has no </head>; bridge script not injected", zap.String("path", path))
		return html
	}
	tag := fmt.Sprintf(`<script src="%s"></script>`, rw.ScriptURL)
	return html[:loc[0]] + tag + html[loc[0]:]
}

func rewriteAPIBase(src string) string {
	src = apiBaseDef.ReplaceAllString(src, apiBaseLine)
	if !strings.Contains(src, "const API_BASE_URL") {
		src = apiBaseLine + "\n" + src
	}
	return src
}

// ensureDevScript sets scripts.dev to vite when it is missing or empty.
// Manifests that are not JSON objects are left alone.
func (rw *Rewriter) ensureDevScript(pkg string) string {
	if !gjson.Valid(pkg) || !gjson.Parse(pkg).IsObject() {
		rw.logger.Warn("Leaving unparseable package.json as-is")
		return pkg
	}
	if dev := gjson.Get(pkg, "scripts.dev"); dev.Exists() && dev.String() != "" {
		return pkg
	}
	if scripts := gjson.Get(pkg, "scripts"); scripts.Exists() && !scripts.IsObject() {
		var err error
		if pkg, err = sjson.Delete(pkg, "scripts"); err != nil {
			return pkg
		}
	}
	updated, err := sjson.Set(pkg, "scripts.dev", "vite")
	if err != nil {
		rw.logger.Warn("Could not set dev script", zap.Error(err))
		return pkg
	}
	return string(pretty.Pretty([]byte(updated)))
}

func setEnv(existing, key, value string) (string, error) {
	vars := map[string]string{}
	if strings.TrimSpace(existing) != "" {
		parsed, err := godotenv.Unmarshal(existing)
		if err != nil {
			return "", err
		}
		vars = parsed
	}
	vars[key] = value
	return godotenv.Marshal(vars)
}

// excludeFromTSConfig appends patterns to the exclude list, creating the
// file when absent. Comments and trailing commas are tolerated on input.
func excludeFromTSConfig(src string, patterns ...string) (string, error) {
	doc := `{"compilerOptions":{}}`
	if strings.TrimSpace(src) != "" {
		doc = string(jsonc.ToJSON([]byte(src)))
		if !gjson.Valid(doc) || !gjson.Parse(doc).IsObject() {
			return "", fmt.Errorf("not a JSON object")
		}
	}

	exclude := make([]string, 0, len(patterns))
	if current := gjson.Get(doc, "exclude"); current.IsArray() {
		for _, v := range current.Array() {
			exclude = append(exclude, v.String())
		}
	}
	for _, p := range patterns {
		if !contains(exclude, p) {
			exclude = append(exclude, p)
		}
	}

	doc, err := sjson.Set(doc, "exclude", exclude)
	if err != nil {
		return "", err
	}
	return string(pretty.Pretty([]byte(doc))), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
