// Package api exposes the REST interface for driving hire runs, switching
// application modes, and replaying the recent activity feed.
package api
