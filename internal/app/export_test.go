package app

import "time"

// Test hooks for the clock.

func (s *SessionService) SetNow(now func() time.Time) { s.now = now }

func (c *QueryCache) SetNow(now func() time.Time) { c.now = now }

func (s *DashboardService) SetNow(now func() time.Time) { s.now = now }
