package models

import "time"

// WakeConfig holds Wake-on-LAN configuration for a backup client that is
// powered down between runs.
type WakeConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // URL to poll until the client is ready
	Timeout       time.Duration // max time to wait for the client
	PollInterval  time.Duration // how often to poll the URL
	StabilizeWait time.Duration // wait after the client responds
}

// WakeResult holds the result of a wake operation.
type WakeResult struct {
	PacketSent   bool
	ClientReady  bool
	WaitDuration time.Duration
	Error        error
}
