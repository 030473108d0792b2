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

var ErrUserNotFound = errors.New("user not found")

// User is a game player. The ID is the upstream player id, not a surrogate key.
type User struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	Name      string
	Token     *Token
	ID        int64 `gorm:"primaryKey;autoIncrement:false"`
}

func (User) TableName() string {
	return "player"
}
