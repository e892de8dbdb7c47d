// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"fmt"
	"net/http"
)

// Option configures a Server at construction time.
type Option func(s *Server) error

// WithUpgradeCb sets a callback run before the upgrade of every request.
func WithUpgradeCb(cb UpgradeCb) Option {
	return func(s *Server) error {
		if cb == nil {
			return fmt.Errorf("upgradeCb should not be nil")
		}
		s.upgradeCb = cb
		return nil
	}
}

// WithCheckOrigin replaces the default policy of accepting any origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) error {
		if fn == nil {
			return fmt.Errorf("checkOrigin should not be nil")
		}
		s.upgrader.CheckOrigin = fn
		return nil
	}
}
