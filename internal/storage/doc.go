package storage

// Package storage provides a minimal persistence layer used by the daemon.
//
// It currently supports:
//   - Task run record appends (execution outcomes)
//   - Optional sink dedup state (to survive restarts)
