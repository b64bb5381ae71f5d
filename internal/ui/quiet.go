package ui

// quietPresenter consumes events but produces no output.
type quietPresenter struct {
	stats   StatsSource
	outcome Outcome
}

func (p *quietPresenter) Run(events <-chan Event) error {
	for ev := range events {
		p.outcome.observe(ev)
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
