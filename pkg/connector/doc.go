// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a Matrix-Facebook Messenger bridge using the
// mautrix bridgev2 framework.
//
// Messenger has no bot API, so the bridge acts as the user's own web
// session. Sessions come from an in-band email and password login or from a
// session file written by the efms-auth command.
//
// # Core Types
//
// [MessengerConnector] implements [bridgev2.NetworkConnector] and manages the
// bridge lifecycle, bot commands, the admin API and automatic login.
//
// [MessengerClient] represents one logged-in Messenger account. It keeps the
// delta stream connected for real-time events, caches threads and performs
// the web API calls for sending, thread sync and backfill.
//
// # Echo Prevention
//
// Every message ID returned by a send is remembered until Messenger echoes
// it back on the delta stream, where it is dropped. Messages the user sends
// from other Messenger sessions are bridged as their own.
//
// # Text Conventions
//
// A Matrix reply whose body is r`KEYWORD (LOVE, SMILE, WOW, SAD, ANGRY, YES,
// NO) or r` followed by an emoji reacts to the replied-to message. An emoji
// followed by S, M or L is sent at that size; a lone thumbs-up becomes the
// thumbs-up sticker.
//
// # Sub-packages
//
//   - matrixfmt converts Matrix HTML to Messenger text and mentions.
//   - messengerfmt converts Messenger text and mentions to Matrix HTML.
package connector
