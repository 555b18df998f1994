// Package repo fetches a game's source tree and rewrites it to run inside
// an execution container behind the fetch-proxy bridge.
//
// Providers:
//   - github: REST trees and blobs API (GITHUB_PAT for private repositories)
//   - git:    shallow in-memory clone
//   - dir:    local checkouts under <root>/<owner>/<name>
//
// Rewrites applied by Rewriter:
//   - bridge <script> injected into index.html and public/index.html
//   - API_BASE_URL in src/services/apiService.ts forced to '/api'
//   - package.json gains a "vite" dev script when it has none
//   - .env carries VITE_GAME_ID=<repository name>
//   - tsconfig.json excludes the eslint configs, which are stubbed out
//   - public/index.html is promoted when the root has no index.html
package repo
