// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package random

import (
	"encoding/base32"

	"github.com/pborman/uuid"
)

const (
	charset  = "ybndrfg8ejkmcpqxot1uwisza345h769"
	idLength = 26
)

var encoding = base32.NewEncoding(charset).WithPadding(base32.NoPadding)

// NewID returns a 26 characters long identifier: a random (version 4)
// UUID encoded with a z-base-32 like alphabet. It's used for peer and
// connection ids.
func NewID() string {
	return encoding.EncodeToString(uuid.NewRandom())[:idLength]
}
