// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the message types shared by the session,
// storage, and rendering layers.
//
// A Message is one finalized turn of a conversation: who said it, the
// content, and - for assistant turns - the model's retained reasoning text
// and the citations it relied on. Streaming state lives in
// internal/session, not here; by the time a Message exists its content is
// complete.
package model
