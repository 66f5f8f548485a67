// Package server implements the HTTP control API for the recording session,
// the monitoring endpoints and the websocket transcript feed.
package server
