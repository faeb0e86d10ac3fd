package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers for snapshots, runs and audit events.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewSnapshotID generates a snapshot identifier.
func NewSnapshotID() string { return defaultGenerator.newIdentifier("snap") }

// NewRunID generates an identifier for one scheduler run.
func NewRunID() string { return defaultGenerator.newIdentifier("run") }

// NewTaskID generates a task identifier.
func NewTaskID() string { return defaultGenerator.newIdentifier("task") }

// NewSessionID generates a session identifier.
func NewSessionID() string { return defaultGenerator.newIdentifier("session") }

// NewEventID generates an audit event identifier.
func NewEventID() string { return defaultGenerator.newIdentifier("evt") }

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		if v7, err := uuid.NewV7(); err == nil {
			body = v7.String()
			break
		}
		body = ksuid.New().String()
	default:
		body = ksuid.New().String()
	}
	return fmt.Sprintf("%s-%s", prefix, body)
}
