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
package models

import (
	"errors"
	"time"
)

var ErrTokenNotFound = errors.New("token not found")

// Token is the upstream API credential of a single user.
//
// Active only ever goes from true to false on its own. The only way back is
// registering the token again.
type Token struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
	User      *User
	Value     string `gorm:"not null"`
	ID        uint   `gorm:"primarykey"`
	UserID    int64  `gorm:"uniqueIndex;not null"`
	Active    bool   `gorm:"index;not null;default:true"`
}

func (Token) TableName() string {
	return "token"
}

// Expired reports whether the upstream expiry has passed at the given time.
// A zero expiry is treated as unknown and never expires.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// Redacted returns a short form of the token value that is safe to log
func (t *Token) Redacted() string {
	if len(t.Value) <= 8 {
		return "****"
	}
	return t.Value[:4] + "..." + t.Value[len(t.Value)-4:]
}
