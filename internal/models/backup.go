package models

import "time"

// BackupVersion is the format version written by this build.
const BackupVersion = 1

// Backup is the file shape produced by export and consumed by restore.
type Backup struct {
	Version     int       `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	Items       []Item    `json:"items"`
	CustomOrder []string  `json:"customOrder"`
}

// LegacyKey is the flat key used by the deprecated persistence mechanism.
const LegacyKey = "collectionItems"
