// Package sink delivers lifecycle events to their consumers: a chat
// webhook, the PostgreSQL store, or the HTTP relay on the login node.
//
// Sinks fail soft. A delivery problem degrades the affected sink and is
// logged, the supervised job never notices it. Persistence and Relay share
// one recording scenario and differ only in transport.
package sink
