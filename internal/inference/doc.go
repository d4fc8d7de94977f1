// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package inference provides the HTTP client for the counsel inference
// service and the event hub that fans its multiplexed stream out to
// subscribers.
//
// The service answers legal research queries over a line-delimited JSON
// stream. Each line carries one event: an answer token, a reasoning token,
// a citation batch, a pipeline stage label, a completion marker, or an
// error. The Client tags every event with the session id of the submit
// that produced it and publishes it on the Hub, where consumers hold
// revocable per-channel subscriptions.
//
// Delivery is synchronous and in order within a channel; nothing is
// guaranteed across channels.
package inference
