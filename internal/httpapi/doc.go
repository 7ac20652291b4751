// Package httpapi exposes the Connection Manager over HTTP.
//
// Every JSON response uses the envelope {"success": bool, "data": ..., "message": string}.
// Live inbound frames are streamed as Server-Sent Events.
package httpapi
