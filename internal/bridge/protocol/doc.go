// Package protocol defines the frames exchanged over a bridge channel.
//
//	RP_FETCH            sandbox -> host   {type, id, input:{url, init}}
//	RP_FETCH_RESULT     host -> sandbox   {type, id, status, headers, body} or {type, id, error}
//	SANDBOX_SESSION_ID  host -> UI        {type, payload}
//	SANDBOX_DATA        host -> UI        {type, sessionId, gameData}
//
// Every frame is a JSON object whose "type" field selects its shape.
// Frames with an unknown type are ignored by every receiver.
package protocol
