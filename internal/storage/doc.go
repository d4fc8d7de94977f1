// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for counsel.
//
// Conversations are stored as individual JSON files under the configured
// storage directory (~/.counsel/conversations/ by default), written
// atomically with fsync. The store supports listing (most recent first),
// searching by summary, matter reference, or message content, deletion,
// and markdown/JSON export.
//
// # Usage
//
// Save a conversation:
//
//	store, err := storage.NewConversationStoreWithDir(dir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, err := store.Save(storage.FromMessages(history, matterRef))
//
// Resume one:
//
//	conv, err := store.Load(id)
//	controller.LoadMessages(conv.ToMessages())
package storage
