package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tick := s.cfg.Tick
	tz := ""
	if s.loc != nil {
		tz = s.loc.String()
	}
	s.mu.Unlock()

	return Snapshot{
		Enabled:  enabled,
		Timezone: tz,
		Tick:     tick,
		Jobs:     s.List(),
	}
}
