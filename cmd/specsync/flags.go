package main

import "time"

// StartFlags Flag structs to decouple cobra from logic for testing.
type StartFlags struct {
	ConfigPath   string
	StatusListen string
	Strategy     string
	StopTimeout  time.Duration
	// PIDFile guards against a second session; defaults to .specsync.pid
	// next to the config file.
	PIDFile string
}

type DiffFlags struct {
	Old      string
	New      string
	Strategy string
	JSON     bool
}

// APIFlags address the status server of a running session.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type HistoryFlags struct {
	Limit int
}

type RestartFlags struct {
	Name string
}

type InitFlags struct {
	ConfigPath  string
	Backend     string
	Frontend    string
	PackageName string
	Force       bool
}
