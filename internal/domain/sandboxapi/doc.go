// Package sandboxapi is the data-collection backend embedded games talk to
// through the relay: test sessions, recorded rounds and their retrieval,
// persisted with gorm on sqlite.
//
// Routes:
//
//	POST /api/sandbox/game-session  {gameId, gameName?, userId?}
//	POST /api/sandbox/game-data     {sessionId, roundNumber?, roundData?}
//	GET  /api/sandbox/get-data?sessionId=
//
// /api/game-session and /api/game-data are accepted as aliases.
package sandboxapi
