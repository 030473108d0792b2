// Copyright 2025 Blink Labs Software
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
package walkr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when the API answers 401 for a token
	ErrInvalidToken = errors.New("walkr: token is invalid")
	// ErrNotInEpic is returned by FetchFleetState when the player's fleet is
	// not on an epic right now
	ErrNotInEpic = errors.New("walkr: not in an epic")
	// ErrUnexpectedStatus is wrapped by StatusError
	ErrUnexpectedStatus = errors.New("walkr: unexpected status")
	// ErrUnsuccessful is returned when a response carries success=false
	ErrUnsuccessful = errors.New("walkr: request was not successful")
)

// maxErrorBodySize bounds the response body kept in a StatusError
const maxErrorBodySize = 1024

// StatusError describes a non-200, non-401 answer from the API
type StatusError struct {
	Endpoint   string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf(
		"unexpected status %d from %s: %s",
		e.StatusCode,
		e.Endpoint,
		e.Body,
	)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
