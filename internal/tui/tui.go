package tui

// New creates the wizard. prompt may be nil, in which case the dispenser's
// own chooser picks the device.
func New(d Dispenser, prompt *Prompt, opts Options) *Stack {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	return NewStack(d, NewWelcomeModel(d, prompt, opts))
}
