// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: December 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

// StatusBlocked is returned for any request from a blocked IP or route.
const StatusBlocked = 401

// HTTP status codes the client may be sent when uploading data. Others may be
// sent, but these are the ones the client should be prepared to handle.
const (
	UploadWrongVersion   = 412 // PUT: different version than initial POST
	UploadIllegalVersion = 426 // Illegal version
	UploadStreamID       = 422 // POST: has stream ID, should not; PUT: missing stream ID
	UploadTooBig         = 413 // Too much data sent to server
	UploadConflict       = 409 // Stream ID indicates a different stream than exists
	UploadWait           = 425 // Try again in a bit, waiting on the other end of the pipe
	UploadForbidden      = 406 // Writing to a finalized stream
	UploadLocked         = 423 // Channel is locked and cannot be edited
)

// HTTP status codes the client may be sent when downloading data.
const (
	DownloadWrongVersion   = 412 // GET: bad version
	DownloadIllegalVersion = 426 // Illegal version
	DownloadNoData         = 410 // No data on this channel; takes priority over stream ID errors
	DownloadConflict       = 409 // Stream ID indicates a different stream than exists
	DownloadWait           = 425 // Try again in a bit, waiting on the other end of the pipe
	DownloadForbidden      = 406 // Stream ID passed for a new stream or while peeking
	DownloadCannotPeek     = 452 // Cannot peek, too much data
	DownloadInUse          = 453 // Someone else is reading from the pipe
	DownloadLocked         = 423 // Channel is locked and cannot be edited
)

// HTTP status codes for channel deletion.
const (
	DeleteLocked = 423 // Channel is locked and cannot be edited
)

// HTTP status codes for query mode.
const (
	QueryIllegalVersion = 426
	QueryNoData         = 410
)

// HTTP status codes for admin mode.
const (
	AdminInvalid        = 400
	AdminUnauthorized   = 403
	AdminIllegalVersion = 426
)
