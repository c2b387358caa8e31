package scheduler

// FallbackDriver has no dedicated strategies; every action takes the
// generic first-live-host rule.
type FallbackDriver struct {
	*Base
}

func newFallbackDriver(b *Base) Driver {
	return &FallbackDriver{Base: b}
}
