package main

import "time"

// APIFlags select the daemon to talk to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

type StatusFlags struct {
	APIFlags
	JSON bool
}

type ArmFlags struct {
	APIFlags
	Mode      string
	Duration  time.Duration
	At        string
	PreAlerts []int
	// processExit selector
	PID             int
	Name            string
	Executable      string
	CmdlineContains string
	StableSec       int
}

type CancelFlags struct {
	APIFlags
	Reason string
}

type PostponeFlags struct {
	APIFlags
	Minutes int
	Reason  string
}

// SettingsFlags carries only the settings the user passed; the *Set fields
// record whether a zero value was given explicitly.
type SettingsFlags struct {
	APIFlags
	PreAlerts       []int
	FinalWarningSec int
	FinalWarningSet bool
	SimulateOnly    bool
	SimulateOnlySet bool
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
